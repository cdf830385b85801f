package web

import (
	"errors"

	hashids "github.com/speps/go-hashids/v2"
)

var errBadID = errors.New("invalid id")

// idCodec maps database ids to opaque public ids.
type idCodec struct {
	h *hashids.HashID
}

func newIDCodec(salt string) (*idCodec, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = 8
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}
	return &idCodec{h: h}, nil
}

func (c *idCodec) Encode(id int64) string {
	s, err := c.h.EncodeInt64([]int64{id})
	if err != nil {
		return ""
	}
	return s
}

func (c *idCodec) Decode(s string) (int64, error) {
	ids, err := c.h.DecodeInt64WithError(s)
	if err != nil || len(ids) != 1 {
		return 0, errBadID
	}
	return ids[0], nil
}
