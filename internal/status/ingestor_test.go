package status

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skeops/diwatch/internal/events"
	"github.com/skeops/diwatch/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

type recordingSink struct {
	tokens []Token
}

func (r *recordingSink) OnStatus(token Token) {
	r.tokens = append(r.tokens, token)
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Token
		ok   bool
	}{
		{"L", Low, true},
		{"H", High, true},
		{"l", "", false},
		{"X", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Parse(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIngestorAcceptsAuthoritativeSource(t *testing.T) {
	sink := &recordingSink{}
	ing := NewIngestor("a84041679d5cfcf2", sink, events.NewHub(8))

	ing.OnEvent("a84041679d5cfcf2", "L")
	ing.OnEvent("a84041679d5cfcf2", "H")

	assert.Equal(t, []Token{Low, High}, sink.tokens)
}

func TestIngestorDropsForeignSource(t *testing.T) {
	sink := &recordingSink{}
	ing := NewIngestor("a84041679d5cfcf2", sink, events.NewHub(8))

	ing.OnEvent("ffffffffffffffff", "L")

	assert.Empty(t, sink.tokens)
}

func TestIngestorDropsUnrecognizedToken(t *testing.T) {
	sink := &recordingSink{}
	hub := events.NewHub(8)
	ing := NewIngestor("a84041679d5cfcf2", sink, hub)

	ing.OnEvent("a84041679d5cfcf2", "BOGUS")

	assert.Empty(t, sink.tokens)

	evs := hub.SnapshotSince(0)
	assert.Len(t, evs, 1)
	assert.Equal(t, events.StatusDropped, evs[0].Type)
}
