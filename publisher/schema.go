package publisher

import (
	"encoding/json"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// LoadSchema reads "<index>.json" from fs. The content is passed to the
// store unchanged and only checked to be valid JSON.
func LoadSchema(fs billy.Filesystem, index string) ([]byte, error) {
	name := index + ".json"
	data, err := util.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", fs.Join(fs.Root(), name), err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("schema %s is not valid JSON", fs.Join(fs.Root(), name))
	}
	return data, nil
}
