package cfg

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

// LoadDotEnv loads KEY=VALUE files into the process environment before
// FillFromEnv runs. Variables already set win over the file, and a missing
// file is not an error. Defaults to ".env".
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return xerrors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}
