package publish

import "testing"

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"DEV1", "DEV1"},
		{"Unknown_10.0.0.5_4000", "Unknown_10_0_0_5_4000"},
		{"a/b+c#d", "a_b_c_d"},
		{"x*y>z", "x_y_z"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SubjectToken(tt.in); got != tt.want {
				t.Errorf("SubjectToken(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
