/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// IsURL returns whether the dataset location is an http(s) URL, as opposed to a local file.
func IsURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// ValidateChecksum verifies that the sha256 of the file in filePath matches checkHash (hex encoded).
// If it doesn't, the file is removed and an error is returned.
func ValidateChecksum(filePath, checkHash string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", filePath)
	}
	hasher := sha256.New()
	_, err = io.Copy(hasher, f)
	_ = f.Close()
	if err != nil {
		return errors.Wrapf(err, "failed to read %q", filePath)
	}
	fileHash := hex.EncodeToString(hasher.Sum(nil))
	if fileHash == strings.ToLower(checkHash) {
		return nil
	}
	if e2 := os.Remove(filePath); e2 != nil {
		klog.Errorf("Failed to remove %q, which failed the checksum test, please remove it: %+v", filePath, e2)
	}
	return errors.Errorf("file %q sha256 hash is %q, but expected %q, file deleted", filePath, fileHash, checkHash)
}

// Download the contents of url to filePath, creating its directory if needed.
// The file is first written to filePath+".tmp" and renamed at the end, so an interrupted download
// never leaves a partial file in filePath.
//
// If showProgressBar is true and the server reports the content length, a progress bar is displayed.
func Download(ctx context.Context, url, filePath string, showProgressBar bool) (size int64, err error) {
	filePath = ReplaceTildeInDir(filePath)
	if err = os.MkdirAll(filepath.Dir(filePath), 0o777); err != nil {
		return 0, errors.Wrapf(err, "failed to create the directory for %q", filePath)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid url %q", url)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: status %q", url, resp.Status)
	}

	tmpPath := filePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", tmpPath)
	}
	var w io.Writer = f
	var bar *progressbar.ProgressBar
	if showProgressBar && resp.ContentLength > 0 {
		bar = progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription("Downloading "+humanize.IBytes(uint64(resp.ContentLength))),
			progressbar.OptionShowBytes(true),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: ".",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		w = io.MultiWriter(f, bar)
	}
	size, err = io.Copy(w, resp.Body)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return 0, errors.Wrapf(err, "downloading %q to %q", url, tmpPath)
	}
	if err = f.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return 0, errors.Wrapf(err, "failed to move %q to %q", tmpPath, filePath)
	}
	klog.V(1).Infof("Downloaded %s from %q to %q", humanize.IBytes(uint64(size)), url, filePath)
	return size, nil
}

// DownloadIfMissing downloads url to filePath, unless the file already exists.
//
// If checkHash is given, the file (downloaded or not) must have that sha256 hash.
func DownloadIfMissing(ctx context.Context, url, filePath, checkHash string) error {
	filePath = ReplaceTildeInDir(filePath)
	if !FileExists(filePath) {
		klog.Infof("Downloading %s ...", url)
		if _, err := Download(ctx, url, filePath, true); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return ValidateChecksum(filePath, checkHash)
}

// FetchCSV returns the local path of a trajectories CSV: location itself if it is a local file, or,
// if it is a URL, the path in cacheDir where it was downloaded (only once) to.
func FetchCSV(ctx context.Context, location, cacheDir, checkHash string) (string, error) {
	if !IsURL(location) {
		return ReplaceTildeInDir(location), nil
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return "", errors.Wrapf(err, "invalid dataset url %q", location)
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "/" || name == "." {
		name = "dataset.csv"
	}
	if !strings.HasSuffix(name, ".csv") {
		name += ".csv"
	}
	filePath := filepath.Join(ReplaceTildeInDir(cacheDir), name)
	if err = DownloadIfMissing(ctx, location, filePath, checkHash); err != nil {
		return "", errors.WithMessagef(err, "fetching dataset %q", location)
	}
	return filePath, nil
}
