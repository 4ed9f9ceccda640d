package correct

import "testing"

func TestSubstituteOnce(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		text  string
		old   string
		repl  string
		want  string
	}{
		{"exact", "please sync type less notes", "type less", "Typeless", "please sync Typeless notes"},
		{"case insensitive", "Type Less wins", "type less", "Typeless", "Typeless wins"},
		{"first occurrence only", "type less then type less", "type less", "Typeless", "Typeless then type less"},
		{"absent", "nothing here", "type less", "Typeless", "nothing here"},
		{"multibyte prefix", "İstanbul ships type less daily", "type less", "Typeless", "İstanbul ships Typeless daily"},
		{"regex metacharacters", "call c++ builder", "c++", "CPlusPlus", "call CPlusPlus builder"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := substituteOnce(tc.text, tc.old, tc.repl); got != tc.want {
				t.Errorf("substituteOnce(%q, %q, %q) = %q, want %q",
					tc.text, tc.old, tc.repl, got, tc.want)
			}
		})
	}
}
