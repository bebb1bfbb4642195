package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDeliverable(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    DeliverableType
		summary string
		wantErr bool
	}{
		{
			name:    "plain json",
			raw:     `{"type":"code","summary":"wrote the parser"}`,
			want:    DeliverableCode,
			summary: "wrote the parser",
		},
		{
			name: "fenced json",
			raw: "```json\n" +
				`{"type":"research","summary":"findings","content":"details"}` +
				"\n```",
			want:    DeliverableResearch,
			summary: "findings",
		},
		{
			name: "bare fence",
			raw: "```\n" +
				`{"type":"decision","summary":"picked nats"}` +
				"\n```",
			want:    DeliverableDecision,
			summary: "picked nats",
		},
		{
			name: "repairable json",
			// Trailing comma and single quotes, typical model output defects.
			raw:     `{'type': 'artifact', 'summary': 'diagram',}`,
			want:    DeliverableArtifact,
			summary: "diagram",
		},
		{
			name:    "empty",
			raw:     "   ",
			wantErr: true,
		},
		{
			name:    "not json at all",
			raw:     "I finished the task, everything went fine.",
			wantErr: true,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"poem","summary":"x"}`,
			wantErr: true,
		},
		{
			name:    "missing summary",
			raw:     `{"type":"code"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDeliverable(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, d.Type)
			require.Equal(t, tt.summary, d.Summary)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	require.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripCodeFence("{\"a\":1}"))
	require.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
}
