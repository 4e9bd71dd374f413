// Package models manages local whisper.cpp models: the download catalog,
// on-disk storage, and the inference server that serves one model at a time.
package models

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fmueller/voxkey/internal/apperr"
)

const DefaultModel = "base"

const ggmlBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

type Model struct {
	Name      string
	FileName  string
	URL       string
	SHA256    string
	SHA256URL string
}

var catalog = map[string]Model{
	"tiny": {
		Name:     "tiny",
		FileName: "ggml-tiny.bin",
		URL:      ggmlBaseURL + "ggml-tiny.bin",
		SHA256:   "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21",
	},
	"base": {
		Name:     "base",
		FileName: "ggml-base.bin",
		URL:      ggmlBaseURL + "ggml-base.bin",
		SHA256:   "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe",
	},
	"small": {
		Name:     "small",
		FileName: "ggml-small.bin",
		URL:      ggmlBaseURL + "ggml-small.bin",
		SHA256:   "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b",
	},
	"medium": {
		Name:     "medium",
		FileName: "ggml-medium.bin",
		URL:      ggmlBaseURL + "ggml-medium.bin",
		SHA256:   "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208",
	},
	"large-v3": {
		Name:     "large-v3",
		FileName: "ggml-large-v3.bin",
		URL:      ggmlBaseURL + "ggml-large-v3.bin",
		SHA256:   "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2",
	},
}

func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Model, bool) {
	model, ok := catalog[name]
	return model, ok
}

// LookupStrict is Lookup with an error listing the known names.
func LookupStrict(name string) (Model, error) {
	if model, ok := Lookup(name); ok {
		return model, nil
	}
	return Model{}, fmt.Errorf("%w: unknown model %q (known models: %s)", apperr.ErrInvalidArgument, name, strings.Join(Names(), ", "))
}

// IsCustomPath reports whether a model id names a file rather than a
// catalog entry.
func IsCustomPath(id string) bool {
	return strings.ContainsRune(id, os.PathSeparator) || strings.ContainsRune(id, '/') || strings.HasSuffix(strings.ToLower(id), ".bin")
}
