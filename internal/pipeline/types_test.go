package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Show me top customers", "show me top customers"},
		{"  Show   me\ttop\ncustomers  ", "show me top customers"},
		{"SHOW ME TOP CUSTOMERS", "show me top customers"},
		{"", ""},
		{"   \t\n  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeDistinctQuestionsStayDistinct(t *testing.T) {
	assert.NotEqual(t, Normalize("top customers by revenue"), Normalize("top customers by orders"))
}

func TestResponseFatal(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want bool
	}{
		{"success", Response{Success: true}, false},
		{"failed before routing", Response{Success: false}, true},
		{"failed after positive routing", Response{Success: false, Decision: &Decision{RequiresSQL: true}}, true},
		{"negative classification", Response{Success: false, Decision: &Decision{RequiresSQL: false}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.Fatal())
		})
	}
}
