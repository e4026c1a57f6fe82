package intake

import "testing"

func TestDeriveDisplayTitle(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"IMG_2024-beach_day.jpg", "Img 2024 Beach Day"},
		{"first dance.png", "First Dance"},
		{"___.jpg", "Untitled"},
		{"", "Untitled"},
		{"/uploads/cake.cutting.final.jpg", "Cake Cutting Final"},
	}
	for _, tc := range cases {
		if got := deriveDisplayTitle(tc.filename); got != tc.want {
			t.Errorf("deriveDisplayTitle(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}
