package analyze_test

import (
	"errors"
	"testing"

	"github.com/jonesrussell/gokb/internal/analyze"
)

func TestParseResponse(t *testing.T) {
	testCases := []struct {
		name         string
		reply        string
		wantTitle    string
		wantCategory string
		wantTags     int
		wantErr      bool
	}{
		{
			name:         "plain JSON reply",
			reply:        `{"title":"Project Notes","summary":"Meeting notes.","category":"Documentation","tags":["notes","meeting"]}`,
			wantTitle:    "Project Notes",
			wantCategory: "Documentation",
			wantTags:     2,
		},
		{
			name: "JSON wrapped in prose and code fences",
			reply: "Here is the analysis:\n```json\n" +
				`{"title":"Config File","summary":"A YAML config.","category":"Code","tags":["yaml"]}` +
				"\n```\nLet me know if you need more.",
			wantTitle:    "Config File",
			wantCategory: "Code",
			wantTags:     1,
		},
		{
			name:         "invented category falls back to Other",
			reply:        `{"title":"Report","summary":"Quarterly figures.","category":"Financial Report","tags":[]}`,
			wantTitle:    "Report",
			wantCategory: "Other",
		},
		{
			name:         "missing tags become empty slice",
			reply:        `{"title":"Readme","summary":"Project readme.","category":"Documentation"}`,
			wantTitle:    "Readme",
			wantCategory: "Documentation",
		},
		{
			name:    "no JSON object",
			reply:   "I could not analyze this file.",
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			reply:   `{"title": "Broken`,
			wantErr: true,
		},
		{
			name:    "missing title",
			reply:   `{"summary":"No title here.","category":"Other"}`,
			wantErr: true,
		},
		{
			name:    "missing summary",
			reply:   `{"title":"No summary","category":"Other"}`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			analysis, parseErr := analyze.ParseResponse(tc.reply)
			if (parseErr != nil) != tc.wantErr {
				t.Fatalf("ParseResponse() error = %v, wantErr %v", parseErr, tc.wantErr)
			}
			if tc.wantErr {
				if !errors.Is(parseErr, analyze.ErrUnparseableResponse) {
					t.Errorf("ParseResponse() error = %v, want ErrUnparseableResponse", parseErr)
				}
				return
			}
			if analysis.Title != tc.wantTitle {
				t.Errorf("ParseResponse() title = %q, want %q", analysis.Title, tc.wantTitle)
			}
			if analysis.Category != tc.wantCategory {
				t.Errorf("ParseResponse() category = %q, want %q", analysis.Category, tc.wantCategory)
			}
			if analysis.Tags == nil {
				t.Error("ParseResponse() tags = nil, want non-nil")
			}
			if len(analysis.Tags) != tc.wantTags {
				t.Errorf("ParseResponse() tags = %d, want %d", len(analysis.Tags), tc.wantTags)
			}
		})
	}
}
