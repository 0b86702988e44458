package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/authz"
	"github.com/CosmoTheDev/ctrlscan-api/internal/ingest"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// multipartForm reads the form fields of an import request. Booleans accept
// the HTML checkbox value "on".
type multipartForm struct {
	r   *http.Request
	err error
}

func (gw *Gateway) parseForm(w http.ResponseWriter, r *http.Request) (*multipartForm, error) {
	limit := gw.cfg.Import.MaxFileSizeBytes()
	if limit <= 0 {
		limit = 100 << 20
	}
	// Room for the other form fields on top of the largest accepted file.
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	memory := int64(gw.cfg.Server.MaxUploadMB) << 20
	if memory <= 0 {
		memory = 32 << 20
	}
	ct := r.Header.Get("Content-Type")
	var err error
	if strings.HasPrefix(ct, "multipart/form-data") {
		err = r.ParseMultipartForm(memory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierr.New(apierr.KindFileTooLarge,
				fmt.Sprintf("Report file is too large. Maximum supported size is %d MB", gw.cfg.Import.MaxFileSizeMB)).
				WithField("file")
		}
		return nil, apierr.New(apierr.KindEncoding, "Multipart form parse error - "+err.Error()).Wrap(err)
	}
	return &multipartForm{r: r}, nil
}

func (f *multipartForm) keep(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *multipartForm) str(key string) string {
	return strings.TrimSpace(f.r.FormValue(key))
}

func (f *multipartForm) boolean(key string) *bool {
	raw := strings.ToLower(f.str(key))
	if raw == "" {
		return nil
	}
	if raw == "on" {
		raw = "true"
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		f.keep(apierr.Validation(key, "Must be a valid boolean."))
		return nil
	}
	return &v
}

func (f *multipartForm) id(key string) *int64 {
	raw := f.str(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		f.keep(apierr.Validation(key, "A valid integer is required."))
		return nil
	}
	return &v
}

// tags accepts repeated fields, a comma separated value or one JSON list.
func (f *multipartForm) tags(key string) *tags.Collection {
	values := f.r.Form[key]
	if len(values) == 0 {
		return nil
	}
	var (
		c   tags.Collection
		err error
	)
	switch {
	case len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "["):
		c, err = tags.Parse(tags.JSONText(values[0]))
	case len(values) == 1 && strings.Contains(values[0], ","):
		c, err = tags.Parse(tags.List(tags.Split(values[0])))
	default:
		c, err = tags.Parse(tags.List(values))
	}
	if err != nil {
		if e, ok := apierr.As(err); ok {
			e.WithField(key)
		}
		f.keep(err)
		return nil
	}
	return &c
}

// file returns nil when no file part was sent. The caller closes the file.
func (f *multipartForm) file(key string) (*ingest.Upload, io.Closer) {
	file, hdr, err := f.r.FormFile(key)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		f.keep(apierr.Validation(key, "The submitted data was not a file.").Wrap(err))
		return nil, nil
	}
	return &ingest.Upload{Name: hdr.Filename, Size: hdr.Size, Content: file}, file
}

func (f *multipartForm) labels() ingest.Labels {
	return ingest.Labels{
		Version:    f.str("version"),
		BuildID:    f.str("build_id"),
		BranchTag:  f.str("branch_tag"),
		CommitHash: f.str("commit_hash"),
	}
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func (gw *Gateway) handleImportScan(w http.ResponseWriter, r *http.Request) {
	form, err := gw.parseForm(w, r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	defer cleanupForm(r)

	req := ingest.ImportRequest{
		ScanType:         form.str("scan_type"),
		ScanDate:         form.str("scan_date"),
		MinimumSeverity:  form.str("minimum_severity"),
		Active:           form.boolean("active"),
		Verified:         form.boolean("verified"),
		Lead:             form.str("lead"),
		Environment:      form.str("environment"),
		EndpointToAdd:    form.id("endpoint_to_add"),
		Tags:             form.tags("tags"),
		CloseOldFindings: form.boolean("close_old_findings"),
		GroupBy:          form.str("group_by"),
		TestTitle:        form.str("test_title"),
		Labels:           form.labels(),
	}
	if push := form.boolean("push_to_jira"); push != nil {
		req.PushToJira = *push
	}
	engagementID := form.id("engagement")
	upload, closer := form.file("file")
	if closer != nil {
		defer closer.Close()
	}
	if form.err != nil {
		writeAPIError(w, r, form.err)
		return
	}
	req.File = upload
	if req.Lead == "" {
		req.Lead = currentUser(r).Name
	}

	if engagementID == nil {
		writeAPIError(w, r, apierr.MissingField("engagement", "This field is required."))
		return
	}
	req.EngagementID = *engagementID
	eng, err := gw.store.GetEngagement(r.Context(), req.EngagementID)
	if err != nil {
		if apierr.IsKind(err, apierr.KindNotFound) {
			err = invalidPK("engagement", req.EngagementID)
		}
		writeAPIError(w, r, err)
		return
	}
	if err := gw.require(r, eng.ProductID, authz.ImportScan); err != nil {
		writeAPIError(w, r, err)
		return
	}

	res, err := gw.ingest.Import(r.Context(), req)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (gw *Gateway) handleReimportScan(w http.ResponseWriter, r *http.Request) {
	form, err := gw.parseForm(w, r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	defer cleanupForm(r)

	req := ingest.ReimportRequest{
		ScanType:         form.str("scan_type"),
		ScanDate:         form.str("scan_date"),
		MinimumSeverity:  form.str("minimum_severity"),
		Active:           form.boolean("active"),
		Verified:         form.boolean("verified"),
		Lead:             form.str("lead"),
		EndpointToAdd:    form.id("endpoint_to_add"),
		Tags:             form.tags("tags"),
		CloseOldFindings: form.boolean("close_old_findings"),
		GroupBy:          form.str("group_by"),
		Labels:           form.labels(),
	}
	if push := form.boolean("push_to_jira"); push != nil {
		req.PushToJira = *push
	}
	testID := form.id("test")
	upload, closer := form.file("file")
	if closer != nil {
		defer closer.Close()
	}
	if form.err != nil {
		writeAPIError(w, r, form.err)
		return
	}
	req.File = upload
	if req.Lead == "" {
		req.Lead = currentUser(r).Name
	}

	if testID == nil {
		writeAPIError(w, r, apierr.MissingField("test", "This field is required."))
		return
	}
	req.TestID = *testID
	productID, err := gw.store.ProductOfTest(r.Context(), req.TestID)
	if err != nil {
		if apierr.IsKind(err, apierr.KindNotFound) {
			err = invalidPK("test", req.TestID)
		}
		writeAPIError(w, r, err)
		return
	}
	if err := gw.require(r, productID, authz.ImportScan); err != nil {
		writeAPIError(w, r, err)
		return
	}

	res, err := gw.ingest.Reimport(r.Context(), req)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleImportLanguages replaces a product's language breakdown with the
// contents of a cloc --json report.
func (gw *Gateway) handleImportLanguages(w http.ResponseWriter, r *http.Request) {
	form, err := gw.parseForm(w, r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	defer cleanupForm(r)

	productID := form.id("product")
	upload, closer := form.file("file")
	if closer != nil {
		defer closer.Close()
	}
	if form.err != nil {
		writeAPIError(w, r, form.err)
		return
	}
	if productID == nil {
		writeAPIError(w, r, apierr.MissingField("product", "This field is required."))
		return
	}
	if err := gw.require(r, *productID, authz.EditProduct); err != nil {
		writeAPIError(w, r, err)
		return
	}
	if _, err := gw.store.GetProduct(r.Context(), *productID); err != nil {
		if apierr.IsKind(err, apierr.KindNotFound) {
			err = invalidPK("product", *productID)
		}
		writeAPIError(w, r, err)
		return
	}
	if upload == nil {
		writeAPIError(w, r, apierr.New(apierr.KindMissingFile, "No file was submitted.").WithField("file"))
		return
	}
	if upload.Size > gw.cfg.Import.MaxFileSizeBytes() {
		writeAPIError(w, r, apierr.New(apierr.KindFileTooLarge,
			fmt.Sprintf("File is too large. Maximum supported size is %d MB", gw.cfg.Import.MaxFileSizeMB)).
			WithField("file"))
		return
	}

	langs, err := parseCloc(upload.Content, *productID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if err := gw.store.ReplaceLanguages(r.Context(), *productID, langs); err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": *productID, "languages": langs})
}

// parseCloc decodes a cloc --json report, skipping its header and SUM rows.
func parseCloc(rd io.Reader, productID int64) ([]models.Language, error) {
	var report map[string]json.RawMessage
	if err := json.NewDecoder(rd).Decode(&report); err != nil {
		return nil, apierr.Validation("file", "Invalid format").Wrap(err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	langs := make([]models.Language, 0, len(report))
	for name, raw := range report {
		if name == "header" || name == "SUM" {
			continue
		}
		var e clocEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, apierr.Validation("file", "Invalid format").Wrap(err)
		}
		langs = append(langs, models.Language{
			ProductID: productID,
			Language:  name,
			Files:     e.Files,
			Blank:     e.Blank,
			Comment:   e.Comment,
			Code:      e.Code,
			CreatedAt: now,
		})
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].Language < langs[j].Language })
	return langs, nil
}
