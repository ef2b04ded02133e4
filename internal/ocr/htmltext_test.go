package ocr

import "testing"

func TestStripHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "سطر أول\nسطر ثان", "سطر أول\nسطر ثان"},
		{"paragraphs", "<p>الأول</p><p>الثاني</p>", "الأول\n\nالثاني"},
		{"br", "a<br>b<br/>c", "a\nb\nc"},
		{"entities", "<div>x &amp; y</div>", "x & y"},
		{"script dropped", "<script>var a=1;</script><span>نص</span>", "نص"},
		{"tabs and spaces", "<p>a\t\tb    c</p>", "a b c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripHTML(tc.in); got != tc.want {
				t.Fatalf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
