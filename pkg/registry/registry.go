// Package registry manages the local copy of the workflow template library:
// a zip archive of published templates downloaded into the stepflow home
// directory, listed, copied out, or refreshed on demand.
package registry

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepflow/pkg/manifest"
	"github.com/ormasoftchile/stepflow/pkg/template"
)

// DefaultURL is the published template library archive.
const DefaultURL = "https://github.com/COMBINE-lab/protocol-estuary/archive/refs/heads/main.zip"

const libraryDirName = "template-library"

// Registry fetches and serves the template library.
type Registry struct {
	HomeDir string
	URL     string
	Client  *http.Client
	Logger  *zap.Logger
}

// New builds a registry rooted at homeDir. Empty url selects DefaultURL.
func New(homeDir, url string, logger *zap.Logger) *Registry {
	if url == "" {
		url = DefaultURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		HomeDir: homeDir,
		URL:     url,
		Client:  http.DefaultClient,
		Logger:  logger,
	}
}

// Library is a usable on-disk template library.
type Library struct {
	// TemplatesDir holds one directory per template, each containing
	// <name>.jsonnet.
	TemplatesDir string
	// UtilsDir holds the jsonnet support libraries templates import.
	UtilsDir string
}

// Ensure returns the local library, downloading it first if it is missing.
func (r *Registry) Ensure(ctx context.Context) (*Library, error) {
	if lib, err := r.local(); err == nil {
		return lib, nil
	}
	return r.Refresh(ctx)
}

// Refresh re-downloads the library archive and replaces the local copy.
func (r *Registry) Refresh(ctx context.Context) (*Library, error) {
	dir := filepath.Join(r.HomeDir, libraryDirName)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear template library: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create template library directory: %w", err)
	}

	r.Logger.Info("downloading template library", zap.String("url", r.URL))
	zipPath := filepath.Join(dir, "library.zip")
	if err := r.download(ctx, zipPath); err != nil {
		return nil, err
	}
	if err := extract(zipPath, dir); err != nil {
		return nil, fmt.Errorf("unpack template library: %w", err)
	}
	return r.local()
}

// local locates the extracted library under the home directory. The archive
// extracts into a single versioned root folder (e.g. protocol-estuary-main)
// containing protocols/ and utils/.
func (r *Registry) local() (*Library, error) {
	dir := filepath.Join(r.HomeDir, libraryDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("template library not present at %s", dir)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(dir, e.Name())
		lib := &Library{
			TemplatesDir: filepath.Join(root, "protocols"),
			UtilsDir:     filepath.Join(root, "utils"),
		}
		if _, err := os.Stat(lib.TemplatesDir); err == nil {
			return lib, nil
		}
	}
	return nil, fmt.Errorf("no template library root under %s", dir)
}

func (r *Registry) download(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download template library: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download template library: %s returned %s", r.URL, resp.Status)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}

func extract(zipPath, destDir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, file := range zr.File {
		target := filepath.Join(destDir, file.Name)
		// reject entries escaping the destination
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		src, err := file.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Info describes one published template.
type Info struct {
	Name    string
	Version string
}

// VersionUnknown marks templates whose jsonnet could not be evaluated, e.g.
// deprecated templates written against an older library.
const VersionUnknown = "N/A"

// List enumerates the templates in the library with their versions. The
// version comes from meta_info.template_version of the instantiated
// template; templates that fail to evaluate are listed as VersionUnknown.
func (lib *Library) List() ([]Info, error) {
	entries, err := os.ReadDir(lib.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("read template library: %w", err)
	}
	var infos []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		infos = append(infos, Info{
			Name:    e.Name(),
			Version: lib.templateVersion(e.Name()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (lib *Library) templateVersion(name string) string {
	path := filepath.Join(lib.TemplatesDir, name, name+".jsonnet")
	data, err := template.Instantiate(path, template.Options{Jpath: []string{lib.UtilsDir}})
	if err != nil {
		return VersionUnknown
	}
	tree, err := manifest.Parse(data)
	if err != nil {
		return VersionUnknown
	}
	version, ok := tree.MetaString("template_version")
	if !ok {
		return "missing"
	}
	return version
}

// Get copies the named template's folder into outputDir as a subdirectory.
// An unknown name fails with suggestions for close matches.
func (lib *Library) Get(name, outputDir string) (string, error) {
	src := filepath.Join(lib.TemplatesDir, name)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		msg := fmt.Sprintf("no template named %q in the library", name)
		if sugg := lib.suggest(name); len(sugg) > 0 {
			msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(sugg, ", "))
		}
		return "", fmt.Errorf("%s", msg)
	}
	dest := filepath.Join(outputDir, name)
	if err := copyDir(src, dest); err != nil {
		return "", fmt.Errorf("copy template %q: %w", name, err)
	}
	return dest, nil
}

// suggest returns library names that contain, or are contained in, the query.
func (lib *Library) suggest(name string) []string {
	entries, err := os.ReadDir(lib.TemplatesDir)
	if err != nil {
		return nil
	}
	query := strings.ToLower(name)
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := strings.ToLower(e.Name())
		if strings.Contains(candidate, query) || strings.Contains(query, candidate) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0644)
	})
}
