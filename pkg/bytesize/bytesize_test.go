package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1KB", 1024},
		{"10MB", 10 * MB},
		{"1.5GB", int64(1.5 * float64(GB))},
		{"500Mi", 500 * MB},
		{" 2 TB ", 2 * TB},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "10XB", "-5MB"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestSizeUnmarshalYAML(t *testing.T) {
	var doc struct {
		Limit Size `yaml:"limit"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("limit: 2MB"), &doc))
	assert.Equal(t, int64(2*MB), doc.Limit.Bytes())

	require.NoError(t, yaml.Unmarshal([]byte("limit: 4096"), &doc))
	assert.Equal(t, int64(4096), doc.Limit.Bytes())
	assert.Equal(t, "4.00 KB", doc.Limit.String())

	assert.Error(t, yaml.Unmarshal([]byte("limit: fast"), &doc))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 B", Format(0))
	assert.Equal(t, "512 B", Format(512))
	assert.Equal(t, "10.00 MB", Format(10*MB))
	assert.Equal(t, "1.50 GB", Format(int64(1.5*float64(GB))))
}
