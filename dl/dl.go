// Package dl fetches game client JARs from the launcher metadata service.
package dl

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/b1naryth1ef/seedmap"
)

// ErrChecksum is returned when a download does not match its SHA1.
var ErrChecksum = errors.New("checksum mismatch")

type DownloadMetadata struct {
	SHA1 string `json:"sha1"`
	Size int    `json:"size"`
	URL  string `json:"url"`
}

type VersionMetadata struct {
	Downloads map[string]*DownloadMetadata `json:"downloads"`
}

type Version struct {
	Id          string `json:"id"`
	Type        string `json:"type"`
	Time        string `json:"time"`
	ReleaseTime string `json:"releaseTime"`
	URL         string `json:"url"`
}

type VersionManifest struct {
	Latest struct {
		Release  string `json:"release"`
		Snapshot string `json:"snapshot"`
	} `json:"latest"`
	Versions []Version `json:"versions"`
}

func (v *VersionManifest) GetLatestRelease() *Version {
	return v.GetRelease(v.Latest.Release)
}

func (v *VersionManifest) GetRelease(id string) *Version {
	for i := range v.Versions {
		if v.Versions[i].Id == id {
			return &v.Versions[i]
		}
	}
	return nil
}

const VERSION_MANIFEST_URL = "https://launchermeta.mojang.com/mc/game/version_manifest.json"

// Client talks to the launcher metadata service.
type Client struct {
	HTTP        *http.Client
	ManifestURL string
}

// DefaultClient uses the public manifest.
var DefaultClient = &Client{
	HTTP:        &http.Client{Timeout: 10 * time.Minute},
	ManifestURL: VERSION_MANIFEST_URL,
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp, nil
}

func (c *Client) GetVersionManifest(ctx context.Context) (*VersionManifest, error) {
	var manifest VersionManifest
	if err := c.getJSON(ctx, c.ManifestURL, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func (c *Client) GetMetadata(ctx context.Context, v *Version) (*VersionMetadata, error) {
	var meta VersionMetadata
	if err := c.getJSON(ctx, v.URL, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Get copies the download to dst and verifies its checksum when one is
// published.
func (c *Client) Get(ctx context.Context, d *DownloadMetadata, dst io.Writer) error {
	resp, err := c.get(ctx, d.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	h := sha1.New()
	if _, err := io.Copy(io.MultiWriter(dst, h), resp.Body); err != nil {
		return err
	}
	if d.SHA1 != "" {
		if sum := hex.EncodeToString(h.Sum(nil)); sum != d.SHA1 {
			return fmt.Errorf("%w: got %s, want %s", ErrChecksum, sum, d.SHA1)
		}
	}
	return nil
}

// DownloadClientJar writes the client JAR of version to path. An empty
// version selects the latest release. The file is written next to path and
// renamed once verified.
func (c *Client) DownloadClientJar(ctx context.Context, version, path string) error {
	log := seedmap.Logger().With("subsystem", "dl")

	manifest, err := c.GetVersionManifest(ctx)
	if err != nil {
		return err
	}

	var release *Version
	if version == "" {
		release = manifest.GetLatestRelease()
	} else {
		release = manifest.GetRelease(version)
	}
	if release == nil {
		return fmt.Errorf("unknown version %q", version)
	}

	meta, err := c.GetMetadata(ctx, release)
	if err != nil {
		return err
	}
	client, ok := meta.Downloads["client"]
	if !ok {
		return fmt.Errorf("version %s has no client download", release.Id)
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".client-*.jar")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	start := time.Now()
	if err := c.Get(ctx, client, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	log.Info("downloaded client jar", "version", release.Id, "path", path, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// EnsureClientJar returns the cached client JAR for version under dir,
// downloading it on first use.
func (c *Client) EnsureClientJar(ctx context.Context, version, dir string) (string, error) {
	name := version
	if name == "" {
		name = "latest"
	}
	path := filepath.Join(dir, fmt.Sprintf("client-%s.jar", name))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}
	if err := c.DownloadClientJar(ctx, version, path); err != nil {
		return "", err
	}
	return path, nil
}
