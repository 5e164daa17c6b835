package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantLevel logrus.Level
		wantErr   bool
	}{
		{name: "defaults", opts: Options{}, wantLevel: logrus.InfoLevel},
		{name: "debug json", opts: Options{Level: "debug", Format: "json"}, wantLevel: logrus.DebugLevel},
		{name: "bad level", opts: Options{Level: "loud"}, wantErr: true},
		{name: "bad format", opts: Options{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, logger.GetLevel())
		})
	}
}

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "json", Output: &buf})
	require.NoError(t, err)

	ForVolume(ForInstance(logger, "i-1"), "v-1").Info("Connecting volume...")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "i-1", entry[FieldInstance])
	assert.Equal(t, "v-1", entry[FieldVolume])
	assert.Equal(t, "Connecting volume...", entry["msg"])
}

func TestEnsure(t *testing.T) {
	assert.Equal(t, logrus.StandardLogger(), Ensure(nil))

	logger, _ := test.NewNullLogger()
	assert.Equal(t, logger, Ensure(logger))
}
