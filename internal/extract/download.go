package extract

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// StoredFile is a document written into a job directory.
type StoredFile struct {
	Path     string
	MIMEType string
	Size     int64
}

// Download fetches rawURL into dir/fileName. Only https is accepted, and
// local or private hosts are refused unless allowPrivate is set, in which
// case plain http is also accepted for them.
func Download(ctx context.Context, rawURL, dir, fileName string, maxBytes int64, timeout time.Duration, allowPrivate bool) (StoredFile, error) {
	if err := validateDownloadURL(rawURL, allowPrivate); err != nil {
		return StoredFile{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return StoredFile{}, fmt.Errorf("download: %w", err)
	}
	req.Header.Set("User-Agent", "compound-association/1.0")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return StoredFile{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StoredFile{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	sf, err := Save(resp.Body, dir, fileName, maxBytes)
	if err != nil {
		return StoredFile{}, err
	}
	if sf.MIMEType == "" || sf.MIMEType == "application/octet-stream" {
		if mt := headerMIME(resp.Header.Get("Content-Type")); mt != "" {
			sf.MIMEType = mt
		}
	}
	return sf, nil
}

// Save writes body to dir/fileName, refusing anything over maxBytes, and
// sniffs the MIME type of what was written.
func Save(body io.Reader, dir, fileName string, maxBytes int64) (StoredFile, error) {
	name := SafeFileName(fileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StoredFile{}, fmt.Errorf("create dir: %w", err)
	}
	outPath := filepath.Join(dir, name)

	f, err := os.Create(outPath)
	if err != nil {
		return StoredFile{}, fmt.Errorf("create: %w", err)
	}

	lr := &io.LimitedReader{R: body, N: maxBytes + 1}
	n, err := io.Copy(f, lr)
	if err == nil && n > maxBytes {
		err = fmt.Errorf("file exceeds %dMB limit", maxBytes/(1<<20))
	} else if err != nil {
		err = fmt.Errorf("write: %w", err)
	}
	if err == nil {
		if serr := f.Sync(); serr != nil {
			err = fmt.Errorf("sync: %w", serr)
		}
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(outPath)
		return StoredFile{}, err
	}

	return StoredFile{Path: outPath, MIMEType: SniffMIMEType(outPath), Size: n}, nil
}

// SafeFileName keeps only the base name, defaulting to input.bin.
func SafeFileName(fileName string) string {
	name := filepath.Base(strings.TrimSpace(fileName))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "input.bin"
	}
	return name
}

func headerMIME(ct string) string {
	mt := strings.ToLower(strings.TrimSpace(ct))
	if base, _, ok := strings.Cut(mt, ";"); ok {
		mt = strings.TrimSpace(base)
	}
	return mt
}

func validateDownloadURL(rawURL string, allowPrivate bool) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed == nil {
		return fmt.Errorf("invalid download URL")
	}

	host := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if host == "" {
		return fmt.Errorf("download URL host is required")
	}

	isLocalName := host == "localhost" || strings.HasSuffix(host, ".localhost")
	isPrivateIP := false
	if ip := net.ParseIP(host); ip != nil {
		isPrivateIP = isPrivateOrLocalIP(ip)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "https":
	case "http":
		if !(allowPrivate && (isLocalName || isPrivateIP)) {
			return fmt.Errorf("download URL must use https")
		}
	default:
		return fmt.Errorf("download URL must use https")
	}

	if (isLocalName || isPrivateIP) && !allowPrivate {
		return fmt.Errorf("download URL host is not allowed")
	}
	return nil
}

func isPrivateOrLocalIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}

	// RFC6598 carrier-grade NAT range: 100.64.0.0/10
	if v4 := ip.To4(); v4 != nil && v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127 {
		return true
	}
	return false
}

// SniffMIMEType detects the content type from the file's bytes.
func SniffMIMEType(path string) string {
	m, err := mimetype.DetectFile(path)
	if err == nil && m != nil {
		return headerMIME(m.String())
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if n <= 0 {
		return ""
	}
	return headerMIME(http.DetectContentType(buf[:n]))
}
