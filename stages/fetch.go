package stages

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dcshock/pipectl/config"
	"github.com/dcshock/pipectl/pipeline"
)

var errBadSource = errors.New("bad static csv entry")

// FetchStaticCSVs returns a unit that downloads every inputs.static_csvs entry
// into the module output dir. Targets go through inv.Resolve, so an existing
// file fails under overwrite_policy=error and is replaced with a warning under
// warn. Each body is written to a temp file and renamed into place.
func FetchStaticCSVs(client *http.Client) pipeline.Unit {
	return func(ctx context.Context, inv *pipeline.Invocation) error {
		sources := inv.Config.Inputs.StaticCSVs
		if len(sources) == 0 {
			inv.Logger.Info("No static CSVs configured.")
			return nil
		}
		for _, src := range sources {
			name, err := fileName(src)
			if err != nil {
				return pipeline.PermanentErr(err)
			}
			target, err := inv.Resolve(name)
			if err != nil {
				return pipeline.PermanentErr(err)
			}
			n, err := download(ctx, client, src.URL, target)
			if err != nil {
				return err
			}
			inv.Logger.Info("Fetched static CSV.", "url", src.URL, "path", target, "bytes", n)
		}
		return nil
	}
}

// fileName picks the target file name: src.Name, else the last URL path
// segment. It must be a bare file name.
func fileName(src config.StaticCSV) (string, error) {
	if src.URL == "" {
		return "", fmt.Errorf("%w: missing url", errBadSource)
	}
	name := src.Name
	if name == "" {
		u, err := url.Parse(src.URL)
		if err != nil {
			return "", fmt.Errorf("%w: %v", errBadSource, err)
		}
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: cannot derive a file name from %q", errBadSource, src.URL)
	}
	if filepath.Ext(name) == "" {
		name += ".csv"
	}
	return name, nil
}

func download(ctx context.Context, client *http.Client, rawURL, target string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	n, err := Get(ctx, client, rawURL, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return n, err
	}
	return n, nil
}
