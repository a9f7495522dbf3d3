package storage

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SupabaseArchive mirrors saved reports into a Supabase Storage bucket so a
// companion app can pull its history without reaching this server's disk.
// Uploads are best-effort; the local file store stays authoritative.
type SupabaseArchive struct {
	BaseURL    string
	ServiceKey string
	Bucket     string
	Client     *http.Client
}

// NewSupabaseArchive constructs an archive client.
func NewSupabaseArchive(baseURL, serviceKey, bucket string) *SupabaseArchive {
	return &SupabaseArchive{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		Bucket:     bucket,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether the archive is fully configured.
func (s *SupabaseArchive) Enabled() bool {
	return s != nil && s.BaseURL != "" && s.ServiceKey != "" && s.Bucket != ""
}

// UploadReport upserts the report JSON under <deviceID>/<sessionID>.json.
func (s *SupabaseArchive) UploadReport(deviceID, sessionID string, report []byte) error {
	if !s.Enabled() {
		return fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}

	objectKey := fmt.Sprintf("%s/%s.json", sanitize(deviceID), sanitize(sessionID))
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.BaseURL, s.Bucket, objectKey)

	req, err := http.NewRequest(http.MethodPost, uploadURL, bytes.NewReader(report))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.ServiceKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "3600")
	req.Header.Set("x-upsert", "true")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload to Supabase: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}
	return nil
}
