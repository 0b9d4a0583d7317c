package issue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStyle = errors.New("style file cannot have the name of the application")

func TestBuilder_Err(t *testing.T) {
	err := New("assemble project").
		Resource("app/styles/dummy.css").
		Suggest("Rename the file to app.css").
		Wrap(fmt.Errorf("styles: %w", errStyle)).
		Err()
	require.Error(t, err)

	assert.Equal(t, "failed to assemble project: app/styles/dummy.css: styles: style file cannot have the name of the application", err.Error())
	assert.ErrorIs(t, err, errStyle)

	var ae *ActionableError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []string{"Rename the file to app.css"}, ae.Suggestions)
}

func TestBuilder_NoCauseIsNil(t *testing.T) {
	assert.NoError(t, New("load project").Resource("package.json").Err())
}

func TestFormat(t *testing.T) {
	err := New("load build file").
		Resource("ember-cli-build.hcl").
		Suggest("Check the HCL syntax", "Run with --verbose").
		Wrap(fmt.Errorf("decode: %w", errors.New("unexpected token"))).
		Err()

	assert.Equal(t, "failed to load build file: ember-cli-build.hcl: decode: unexpected token\n\n  • Check the HCL syntax\n  • Run with --verbose", Format(err, false))

	verbose := Format(err, true)
	assert.Contains(t, verbose, "Error chain:\n  1. decode: unexpected token\n  2. unexpected token")

	assert.Equal(t, "plain", Format(errors.New("plain"), true))
}
