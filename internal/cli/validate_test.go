package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand(t *testing.T) {
	stdout, _, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Schema valid")
	assert.Contains(t, stdout, "has-fk")
	assert.Contains(t, stdout, "via-fk")
}

func TestValidateCommandJSON(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "validate")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Entities, 2)

	person := resp.Data.Entities[0]
	assert.Equal(t, "person", person.Identity)
	assert.Equal(t, "default", person.Datastore)
	assert.Equal(t, "id", person.PrimaryKey)
	assert.Equal(t, []AssociationSummary{
		{Attribute: "pet", Related: "pet", Shape: "has-fk", FKKey: "petId"},
		{Attribute: "pets", Related: "pet", Shape: "via-fk", FKKey: "owner"},
	}, person.Associations)

	pet := resp.Data.Entities[1]
	assert.Equal(t, "pets", pet.Datastore)
}

func TestValidateCommandUndeclaredDatastore(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "stitch.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[[datastore]]\nname = \"default\"\nkind = \"memory\"\n"), 0644))

	stdout, _, err := execute(t, "--config", configPath, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, `undeclared datastore "pets"`)
}

func TestValidateCommandBadSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(`entity: thing: attributes: size: {type: "huge"}`), 0644))

	stdout, _, err := execute(t, "--schema", dir, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error ["+ErrCodeSchema+"]")
}
