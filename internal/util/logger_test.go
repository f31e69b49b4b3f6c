package util

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		format    string
		wantDebug bool
		wantJSON  bool
	}{
		{"text info", false, "text", false, false},
		{"text debug", true, "text", true, false},
		{"json", false, "json", false, true},
		{"json upper case", true, "JSON", true, true},
		{"unknown falls back to text", false, "xml", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			initLogger(&buf, tt.verbose, tt.format)
			log := GetLogger()

			log.Debug("debug line", "component", "test")
			log.Info("info line", "component", "test")

			out := buf.String()
			assert.Contains(t, out, "info line")
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug line")))

			if tt.wantJSON {
				line, _, _ := bytes.Cut(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
				if tt.wantDebug {
					var rec map[string]interface{}
					require.NoError(t, json.Unmarshal(line, &rec))
					assert.Equal(t, "test", rec["component"])
				} else {
					assert.True(t, json.Valid(line))
				}
			} else {
				assert.Contains(t, out, "component=test")
			}
		})
	}
}
