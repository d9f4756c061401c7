package site

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"directory-a", "A", " a "} {
		s, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, "directory-a", s.Name)
	}

	s, err := Lookup("b")
	require.NoError(t, err)
	assert.True(t, s.ResolveIndirection)

	_, err = Lookup("directory-z")
	assert.ErrorIs(t, err, ErrUnknownSite)
}

func TestBuiltinsAreValid(t *testing.T) {
	all := All()
	require.Len(t, all, 2)
	assert.Equal(t, "directory-a", all[0].Name)
	for _, s := range all {
		assert.NoError(t, s.Validate(), s.Name)
	}
}

func TestURL(t *testing.T) {
	s := DirectoryA()
	assert.Equal(t, "https://groupsor.link/group/indexmore", s.URL("/group/indexmore"))
	assert.Equal(t, "https://groupsor.link/group/join/", s.URL(s.IndirectionMarker))
	assert.Equal(t, "https://elsewhere.example/x", s.URL("https://elsewhere.example/x"))
	assert.Equal(t, s.BaseURL, s.URL(""))
	assert.Equal(t, "groupsor.link", s.Host())
}

func TestValidate(t *testing.T) {
	s := DirectoryA()
	s.FirstPageMode = FirstPageForm
	s.FormPath = ""
	assert.Error(t, s.Validate())

	s = DirectoryA()
	s.DirectMarker, s.IndirectionMarker = "", ""
	assert.Error(t, s.Validate())

	s = DirectoryA()
	s.FirstPage = -1
	assert.Error(t, s.Validate())
}
