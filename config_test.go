package rowmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
tag: sql
case_sensitive: true
capacity: 128
missing_members: fail
null_as_zero: true
`))
	require.NoError(t, err)
	assert.Equal(t, Config{Tag: "sql", CaseSensitive: true, Capacity: 128, MissingMembers: MissingFail, NullAsZero: true}, cfg)
	assert.Equal(t, Options{TagName: "sql", CaseSensitive: true, Capacity: 128, MissingMembers: MissingFail, NullAsZero: true}, cfg.Options())
}

func TestParseConfig_Empty(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestParseConfig_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":   "tagname: db\n",
		"bad policy":    "missing_members: panic\n",
		"negative cap":  "capacity: -1\n",
		"wrong type":    "capacity: lots\n",
		"not a mapping": "- tag\n",
	} {
		_, err := ParseConfig([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rowmap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("missing_members: zero\ncapacity: 7\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{Capacity: 7}, cfg)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMissingPolicy_Text(t *testing.T) {
	var p MissingPolicy
	require.NoError(t, p.UnmarshalText([]byte("fail")))
	assert.Equal(t, MissingFail, p)
	b, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "fail", string(b))
	assert.Equal(t, "zero", MissingZero.String())
	assert.Error(t, p.UnmarshalText([]byte("FAIL")))
}
