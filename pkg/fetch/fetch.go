package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/OpenAssetIO/conan-center-index/pkg/buildsys"
	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
)

// StampsFile is the name of the file in the cache directory that records finished downloads
const StampsFile = "stamps.json"

// ChecksumMismatch is returned when a downloaded archive doesn't match the lockfile's checksum
type ChecksumMismatch struct {
	URL      string
	Expected string
	Actual   string
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s but got %s", e.URL, e.Expected, e.Actual)
}

// Fetcher downloads package archives into their package folders
type Fetcher struct {
	CacheDir string
	Client   *http.Client
	// Quiet hides the progress bars
	Quiet bool
}

// New returns a fetcher storing its stamps in cacheDir
func New(cacheDir string) *Fetcher {
	return &Fetcher{
		CacheDir: cacheDir,
		Client: &http.Client{
			Timeout: 30 * time.Minute,
		},
		Quiet: os.Getenv("CI") == "true",
	}
}

func (f *Fetcher) progressBar(length int64, desc string) *progressbar.ProgressBar {
	if f.Quiet {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func (f *Fetcher) stampsPath() string {
	return filepath.Join(f.CacheDir, StampsFile)
}

// ReadStamps loads the stamps file. A missing file yields an empty map.
func (f *Fetcher) ReadStamps() (map[string]string, error) {
	stamps := map[string]string{}
	data, err := os.ReadFile(f.stampsPath())
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return stamps, nil
		}
		return nil, eris.Wrapf(err, "failed to read stamps file %s", f.stampsPath())
	}

	err = json.Unmarshal(data, &stamps)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse stamps file %s", f.stampsPath())
	}
	return stamps, nil
}

func (f *Fetcher) writeStamps(stamps map[string]string) error {
	data, err := json.MarshalIndent(stamps, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to encode stamps")
	}

	err = os.MkdirAll(f.CacheDir, 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", f.CacheDir)
	}

	err = os.WriteFile(f.stampsPath(), data, 0o660)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", f.stampsPath())
	}
	return nil
}

func stampToken(pkg *graph.Package) string {
	return pkg.URL + "#" + pkg.Sha256
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Fetch makes sure every package folder exists. Packages without a URL must already be
// present locally. The stamps file is updated after each successful download.
func (f *Fetcher) Fetch(ctx context.Context, pkgs []*graph.Package) error {
	stamps, err := f.ReadStamps()
	if err != nil {
		return err
	}

	for _, pkg := range pkgs {
		exists := dirExists(pkg.PackageFolder)

		if pkg.URL == "" {
			if !exists {
				return &graph.PackageMissing{Ref: pkg.Ref, Reason: "its package folder doesn't exist and no download URL was given"}
			}
			buildsys.Log(ctx).Debug().Str("path", pkg.PackageFolder).Msgf("%s is available locally", pkg.Ref)
			continue
		}

		if exists && stamps[pkg.Ref] == stampToken(pkg) {
			buildsys.Log(ctx).Debug().Msgf("%s is up to date", pkg.Ref)
			continue
		}

		err = f.fetchPackage(ctx, pkg)
		if err != nil {
			return err
		}

		stamps[pkg.Ref] = stampToken(pkg)
		err = f.writeStamps(stamps)
		if err != nil {
			return err
		}
	}

	return nil
}

func (f *Fetcher) download(ctx context.Context, pkg *graph.Package, dest io.Writer) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pkg.URL, nil)
	if err != nil {
		return 0, "", eris.Wrapf(err, "failed to build request for %s", pkg.URL)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, "", eris.Wrapf(err, "failed to start download for %s", pkg.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", eris.Errorf("failed to download %s: server responded with %s", pkg.URL, resp.Status)
	}

	hash := sha256.New()
	bar := f.progressBar(resp.ContentLength, "     download")
	size, err := io.Copy(io.MultiWriter(dest, hash, bar), resp.Body)
	_ = bar.Finish()
	if err != nil {
		return 0, "", eris.Wrapf(err, "failed during download of %s", pkg.URL)
	}

	return size, hex.EncodeToString(hash.Sum(nil)), nil
}

func (f *Fetcher) fetchPackage(ctx context.Context, pkg *graph.Package) error {
	if pkg.Sha256 == "" {
		return eris.Errorf("package %s doesn't have a checksum", pkg.Ref)
	}

	extractor, err := getExtractor(pkg.URL)
	if err != nil {
		return err
	}

	buildsys.Log(ctx).Info().Str("task", "fetch").Msgf("%s: %s", pkg.Ref, pkg.URL)

	err = os.MkdirAll(f.CacheDir, 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", f.CacheDir)
	}

	archive, err := os.CreateTemp(f.CacheDir, "download-*.tmp")
	if err != nil {
		return eris.Wrap(err, "failed to create temporary download file")
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	size, digest, err := f.download(ctx, pkg, archive)
	if err != nil {
		return err
	}

	if !strings.EqualFold(digest, pkg.Sha256) {
		return &ChecksumMismatch{URL: pkg.URL, Expected: pkg.Sha256, Actual: digest}
	}

	buildsys.Log(ctx).Debug().Msgf("downloaded %s for %s", humanize.Bytes(uint64(size)), pkg.Ref)

	if _, err := os.Stat(pkg.PackageFolder); err == nil {
		buildsys.Log(ctx).Info().Str("path", pkg.PackageFolder).Msgf("removing outdated %s", pkg.PackageFolder)
		err = os.RemoveAll(pkg.PackageFolder)
		if err != nil {
			return eris.Wrapf(err, "failed to remove %s", pkg.PackageFolder)
		}
	}

	_, err = archive.Seek(0, io.SeekStart)
	if err != nil {
		return eris.Wrap(err, "failed to rewind download")
	}

	bar := f.progressBar(size, "      extract")
	err = extractor(archive, bar, pkg.PackageFolder, pkg.Strip)
	_ = bar.Finish()
	if err != nil {
		return eris.Wrapf(err, "failed to extract %s", pkg.URL)
	}

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions
		for _, binPath := range pkg.MarkExec {
			binPath = filepath.Join(pkg.PackageFolder, binPath)
			info, err := os.Stat(binPath)
			if err != nil {
				return eris.Wrapf(err, "failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, info.Mode()|0o700)
			if err != nil {
				return eris.Wrapf(err, "failed to mark %s as executable", binPath)
			}
		}
	}

	return nil
}
