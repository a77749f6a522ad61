package backup

import "testing"

func TestFilenames(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"api", APIFilename("/erp/projects"), "_erp_projects.json"},
		{"api without slash", APIFilename("erp/projects"), "_erp_projects.json"},
		{"api special chars", APIFilename(`/a:b*c?"d"<e>|f\g`), "_a_b_c__d__e__f_g.json"},
		{"process", ProcessFilename("HIPOTECH-001"), "HIPOTECH-001.json"},
		{"process with slash", ProcessFilename("a/b"), "a_b.json"},
		{"safe", SafeFilename("/web/home page"), "_web_home_page.json"},
		{"localize", LocalizeFilename("app;cat;code.x"), "app__cat__code_x.json"},
		{"digits", DigitsFilename("12-34a"), "1234.json"},
		{"checks", ChecksFilename("CloudFrameWorkProjectsTasks", "5/6"), "CloudFrameWorkProjectsTasks__5_6.json"},
		{"cfo", CFOFilename("MyCFO"), "MyCFO.json"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, tc.got)
		}
	}
}
