package cache

import (
	"encoding/json"
	"io"
)

// InfoFileName is the cache info file a client uploads next to its sources.
const InfoFileName = "ne-cache-info.json"

// Entry is one file of a cache info file.
type Entry struct {
	Path   string `json:"path"`
	Key    string `json:"key"`
	Cached bool   `json:"cached"`
}

// Info is the cache info file.
type Info struct {
	Files []Entry `json:"files"`
}

// ReadInfo decodes a cache info file.
func ReadInfo(r io.Reader) (*Info, error) {
	var info Info
	if err := json.NewDecoder(r).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// WriteInfo encodes info.
func WriteInfo(w io.Writer, info *Info) error {
	return json.NewEncoder(w).Encode(info)
}
