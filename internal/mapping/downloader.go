package mapping

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/retry"
)

// Downloader fetches mapping files for resolved platform versions and keeps
// a local cache keyed by version string.
type Downloader struct {
	cfg    *config.MappingsConfig
	client *http.Client
	logger *logrus.Logger
}

func NewDownloader(cfg *config.MappingsConfig, logger *logrus.Logger) *Downloader {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// CachePath returns where the mapping file for a version lives locally.
func (d *Downloader) CachePath(version string) string {
	return filepath.Join(d.cfg.Dir, version+".srg")
}

// Ensure returns a local mapping file path for the version, downloading it
// when absent and auto-download is enabled.
func (d *Downloader) Ensure(ctx context.Context, version string) (string, error) {
	path := d.CachePath(version)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if !d.cfg.AutoDownload {
		return "", fmt.Errorf("no cached mapping for version %s and auto-download is disabled", version)
	}
	if d.cfg.BaseURL == "" {
		return "", fmt.Errorf("mapping auto-download enabled but base_url is not configured")
	}

	url := fmt.Sprintf("%s/%s.srg", d.cfg.BaseURL, version)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 3
	retryCfg.InitialInterval = 2 * time.Second
	retryCfg.Logger = d.logger

	err := retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		return d.fetch(ctx, url, path)
	})
	if err != nil {
		return "", fmt.Errorf("failed to download mapping for version %s: %w", version, err)
	}

	d.logger.WithFields(logrus.Fields{
		"version": version,
		"path":    path,
	}).Info("Mapping file downloaded")

	return path, nil
}

// fetch writes the body to a temp file and renames it into place so a
// partial download never poisons the cache.
func (d *Downloader) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.NewNonRetryableError(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return retry.NewNonRetryableError(fmt.Errorf("no mapping published for this version (404)"))
	case resp.StatusCode >= 500:
		return fmt.Errorf("mapping server returned %d", resp.StatusCode)
	default:
		return retry.NewNonRetryableError(fmt.Errorf("mapping server returned %d", resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return retry.NewNonRetryableError(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return retry.NewNonRetryableError(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dest)
}
