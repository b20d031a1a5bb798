package template

import (
	"strings"
	"testing"

	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
)

func TestParseUserRisk(t *testing.T) {
	tests := []struct {
		name string
		body string
		want risk.Level
	}{
		{"high selected", "## Risk\n- [ ] LOW\n- [x] HIGH\n", risk.High},
		{"upper case marker", "- [X] LOW\n- [ ] HIGH", risk.Low},
		{"star bullet", "* [x] HIGH", risk.High},
		{"emphasis", "- [x] **HIGH** risk change", risk.High},
		{"none selected", "- [ ] LOW\n- [ ] HIGH", risk.Unknown},
		{"both selected", "- [x] LOW\n- [x] HIGH", risk.Unknown},
		{"same box twice", "- [x] LOW\n- [x] LOW", risk.Unknown},
		{"token must be upper case", "- [x] Low", risk.Unknown},
		{"token must be a word", "- [x] LOWER", risk.Unknown},
		{"empty body", "", risk.Unknown},
		{"box inside backtick fence ignored", "## Risk\n- [x] LOW\n\n## Example\n```md\n- [x] HIGH\n```\n", risk.Low},
		{"box inside tilde fence ignored", "~~~\n- [x] LOW\n~~~\n- [x] HIGH", risk.High},
		{"shorter fence does not close", "````\n```\n- [x] HIGH\n````\n- [x] LOW", risk.Low},
		{"unclosed fence hides the rest", "- [x] LOW\n```\n- [x] HIGH", risk.Low},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.body).UserRisk; got != tt.want {
				t.Errorf("UserRisk = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseBackout(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "section until next sibling heading",
			body: "## Backout Plan\nRevert the migration.\n\n## Testing\nunit",
			want: "Revert the migration.",
		},
		{
			name: "nested heading stays inside",
			body: "## Backout\nStep 1\n### Details\nmore\n## Next\nother",
			want: "Step 1\n### Details\nmore",
		},
		{
			name: "higher level heading ends section",
			body: "### Rollback steps\nredeploy v1\n# Appendix\nx",
			want: "redeploy v1",
		},
		{
			name: "section runs to end of body",
			body: "# Summary\nthing\n## Back-out plan\nflip the flag off",
			want: "flip the flag off",
		},
		{
			name: "empty section",
			body: "## Backout Plan\n\n   \n## Notes\nnone",
			want: "",
		},
		{
			name: "comment in fenced script is not a heading",
			body: "## Risk\n- [x] HIGH\n\n## Backout Plan\n```sh\n# revert the migration\npsql -f down.sql\n```\n\n## Testing\nunit",
			want: "```sh\n# revert the migration\npsql -f down.sql\n```",
		},
		{
			name: "backout heading inside fence is ignored",
			body: "## Example\n```\n## Backout Plan\nfake\n```\n## Rollback\nredeploy",
			want: "redeploy",
		},
		{
			name: "missing section",
			body: "## Summary\nnothing to see",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.body).BackoutText
			if got != tt.want {
				t.Errorf("BackoutText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLineEndingInvariance(t *testing.T) {
	body := "## Risk\n- [ ] LOW\n- [x] HIGH  \n\n## Backout Plan\nrevert commit\n\n## Testing\nci"
	variants := map[string]string{
		"lf":   body,
		"crlf": strings.ReplaceAll(body, "\n", "\r\n"),
		"cr":   strings.ReplaceAll(body, "\n", "\r"),
	}
	want := Parse(body)
	for name, v := range variants {
		got := Parse(v)
		if got != want {
			t.Errorf("%s: Parse = %+v, want %+v", name, got, want)
		}
		if got.HasBackout() != want.HasBackout() {
			t.Errorf("%s: HasBackout differs", name)
		}
		if Normalize(v) != Normalize(body) {
			t.Errorf("%s: normalized text differs", name)
		}
	}
	if want.UserRisk != risk.High || !want.HasBackout() {
		t.Fatalf("unexpected baseline %+v", want)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("a  \r\nb\t\r\n\r\n")
	if got != "a\nb" {
		t.Errorf("Normalize = %q, want %q", got, "a\nb")
	}
	// NFD e + combining acute becomes the precomposed form.
	if Normalize("e\u0301") != "\u00e9" {
		t.Error("expected NFC normalization")
	}
}

func TestHasBackoutWhitespaceOnly(t *testing.T) {
	d := Declaration{BackoutText: " \n\t "}
	if d.HasBackout() {
		t.Error("whitespace-only backout must not count")
	}
}
