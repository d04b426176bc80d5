package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, DefaultTitle, DeriveTitle(""))
	assert.Equal(t, "short question", DeriveTitle("short question"))

	long := strings.Repeat("a", 80)
	got := DeriveTitle(long)
	assert.Equal(t, strings.Repeat("a", 50)+"...", got)

	// Rune-safe truncation.
	multibyte := strings.Repeat("日", 60)
	got = DeriveTitle(multibyte)
	assert.Equal(t, strings.Repeat("日", 50)+"...", got)

	exact := strings.Repeat("b", 50)
	assert.Equal(t, exact, DeriveTitle(exact))
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("moderator").Valid())
	assert.False(t, Role("").Valid())
}

func TestMessageText(t *testing.T) {
	plain := Message{Content: "just text"}
	assert.Equal(t, "just text", plain.Text())

	multi := Message{Parts: []ContentPart{
		{Type: "text", Text: "first"},
		{Type: "image_url", ImageURL: &ImageURL{URL: "https://example.com/a.png"}},
		{Type: "text", Text: "second"},
	}}
	assert.Equal(t, "first\nsecond", multi.Text())
	assert.Equal(t, "https://example.com/a.png", multi.FirstImageURL())
	assert.Empty(t, plain.FirstImageURL())
}

func TestMessageBodyRoundTrip(t *testing.T) {
	multi := Message{Parts: []ContentPart{
		{Type: "text", Text: "look"},
		{Type: "image_url", ImageURL: &ImageURL{URL: "https://example.com/b.png"}},
	}}
	body, err := multi.EncodeBody()
	require.NoError(t, err)

	var decoded Message
	decoded.DecodeBody(body)
	require.Len(t, decoded.Parts, 2)
	assert.Equal(t, "look", decoded.Parts[0].Text)
	assert.Equal(t, "https://example.com/b.png", decoded.Parts[1].ImageURL.URL)

	// Plain text bodies, including ones that merely start with a bracket,
	// survive as content.
	var plain Message
	plain.DecodeBody("hello world")
	assert.Equal(t, "hello world", plain.Content)
	assert.Nil(t, plain.Parts)

	var bracket Message
	bracket.DecodeBody("[not a json array")
	assert.Equal(t, "[not a json array", bracket.Content)
}

func TestImportRequestValidate(t *testing.T) {
	var req ImportRequest
	assert.ErrorIs(t, req.Validate(), ErrNoMessages)

	empty := []Message{}
	req.Messages = &empty
	assert.NoError(t, req.Validate())

	bad := []Message{{Role: Role("robot"), Content: "x"}}
	req.Messages = &bad
	assert.Error(t, req.Validate())

	good := []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
	}
	req.Messages = &good
	assert.NoError(t, req.Validate())
}
