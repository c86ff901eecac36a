package pathcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "-home-dev-my-project", Encode("/home/dev/my-project"))
	assert.Equal(t, "-home-dev-my-project", Encode("/home/dev/my-project/"))
	assert.Equal(t, "", Encode("/"))
}

func TestDecode(t *testing.T) {
	assert.Equal(t, "/home/dev/my/project", Decode("-home-dev-my-project"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// encode . decode == id only holds for paths with no literal hyphens,
	// since both "/" and "-" collapse onto the same encoded character.
	path := "/home/dev/project"
	assert.Equal(t, path, Decode(Encode(path)))
}
