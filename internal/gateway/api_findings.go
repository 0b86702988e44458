package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/authz"
	"github.com/CosmoTheDev/ctrlscan-api/internal/findings"
	"github.com/CosmoTheDev/ctrlscan-api/internal/reqresp"
	"github.com/CosmoTheDev/ctrlscan-api/internal/store"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// findingPayload decodes a finding body. Reporter is filled in by the caller.
func findingPayload(p payload) (findings.Payload, error) {
	fr := &fieldReader{p: p}
	out := findings.Payload{
		TestID:           fr.id("test"),
		Title:            fr.str("title"),
		Description:      fr.str("description"),
		Severity:         fr.str("severity"),
		Mitigation:       fr.str("mitigation"),
		Impact:           fr.str("impact"),
		FilePath:         fr.str("file_path"),
		Line:             fr.integer("line"),
		ComponentName:    fr.str("component_name"),
		ComponentVersion: fr.str("component_version"),
		VulnID:           fr.str("vuln_id_from_tool"),
		CWE:              fr.integer("cwe"),
		Date:             fr.str("date"),
		IsMitigated:      fr.boolean("is_mitigated"),
		Flags: findings.Flags{
			Active:       fr.boolean("active"),
			Verified:     fr.boolean("verified"),
			Duplicate:    fr.boolean("duplicate"),
			FalseP:       fr.boolean("false_p"),
			RiskAccepted: fr.boolean("risk_accepted"),
		},
		Tags: fr.tags("tags"),
	}
	if push := fr.boolean("push_to_jira"); push != nil {
		out.PushToJira = *push
	}
	return out, fr.err
}

// view projects f with its endpoints and linked tracker issue.
func (gw *Gateway) view(ctx context.Context, f models.Finding) (findingView, error) {
	v := findingView{Finding: f, DisplayStatus: f.Status()}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	ids, err := gw.store.FindingEndpointIDs(ctx, f.ID)
	if err != nil {
		return v, err
	}
	if ids == nil {
		ids = []int64{}
	}
	v.Endpoints = ids

	issue, err := gw.tracker.Issue(ctx, f)
	if err != nil {
		return v, err
	}
	if issue != nil {
		url := issue.URL
		v.JiraIssueURL = &url
		if v.JiraCreation, err = gw.tracker.CreationTime(ctx, f); err != nil {
			return v, err
		}
		if v.JiraChange, err = gw.tracker.ChangeTime(ctx, f); err != nil {
			return v, err
		}
	}
	return v, nil
}

// loadFinding resolves the {id} finding and checks perm on its product.
func (gw *Gateway) loadFinding(r *http.Request, perm authz.Permission) (models.Finding, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return models.Finding{}, err
	}
	productID, err := gw.store.ProductOfFinding(r.Context(), id)
	if err != nil {
		return models.Finding{}, err
	}
	if err := gw.require(r, productID, perm); err != nil {
		return models.Finding{}, err
	}
	return gw.store.GetFinding(r.Context(), id)
}

func (gw *Gateway) handleListFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ff := store.FindingFilter{Products: currentUser(r).Products}
	var err error
	if ff.TestID, err = queryID(r, "test"); err != nil {
		writeAPIError(w, r, err)
		return
	}
	if ff.EngagementID, err = queryID(r, "engagement"); err != nil {
		writeAPIError(w, r, err)
		return
	}
	if raw := q.Get("active"); raw != "" {
		active, perr := strconv.ParseBool(raw)
		if perr != nil {
			writeAPIError(w, r, apierr.Validation("active", "Must be a valid boolean."))
			return
		}
		ff.Active = &active
	}
	if raw := q.Get("severity"); raw != "" {
		sev, ok := models.ParseSeverity(raw)
		if !ok {
			writeAPIError(w, r, apierr.Validation("severity", "Select a valid choice."))
			return
		}
		ff.Severity = sev
	}

	pg := parsePaginationParams(r, 25, 200)
	items, total, err := gw.store.ListFindings(r.Context(), ff, pg.storePage())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	views := make([]findingView, 0, len(items))
	for _, f := range items {
		v, err := gw.view(r.Context(), f)
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, newPaginationResult(views, pg, total))
}

func (gw *Gateway) handleCreateFinding(w http.ResponseWriter, r *http.Request) {
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	p, err := findingPayload(body)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if p.TestID == nil {
		writeAPIError(w, r, apierr.MissingField("test", "This field is required."))
		return
	}
	productID, err := gw.store.ProductOfTest(r.Context(), *p.TestID)
	if err != nil {
		if apierr.IsKind(err, apierr.KindNotFound) {
			err = invalidPK("test", *p.TestID)
		}
		writeAPIError(w, r, err)
		return
	}
	if err := gw.require(r, productID, authz.AddFinding); err != nil {
		writeAPIError(w, r, err)
		return
	}
	p.Reporter = currentUser(r).Name

	f, err := gw.findings.Create(r.Context(), p)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	v, err := gw.view(r.Context(), f)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (gw *Gateway) handleGetFinding(w http.ResponseWriter, r *http.Request) {
	f, err := gw.loadFinding(r, authz.View)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	v, err := gw.view(r.Context(), f)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleUpdateFinding serves PUT (full update) and PATCH (partial update).
func (gw *Gateway) handleUpdateFinding(w http.ResponseWriter, r *http.Request) {
	existing, err := gw.loadFinding(r, authz.EditFinding)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	p, err := findingPayload(body)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if p.TestID != nil && *p.TestID != existing.TestID {
		writeAPIError(w, r, apierr.New(apierr.KindForbiddenChange, "Change of test is not possible").WithField("test"))
		return
	}
	kind := findings.PartialUpdate
	if r.Method == http.MethodPut {
		kind = findings.Update
	}

	f, err := gw.findings.Update(r.Context(), kind, existing, p)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	v, err := gw.view(r.Context(), f)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (gw *Gateway) handleDeleteFinding(w http.ResponseWriter, r *http.Request) {
	f, err := gw.loadFinding(r, authz.EditFinding)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if err := gw.store.DeleteFinding(r.Context(), f.ID); err != nil {
		writeAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- tags ---

func (gw *Gateway) handleGetFindingTags(w http.ResponseWriter, r *http.Request) {
	f, err := gw.loadFinding(r, authz.View)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	names, err := tags.Extract(r.Context(), tags.FromLive(gw.store.Live(store.EntityFinding, f.ID, store.TagField)))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": names})
}

// handleAddFindingTags appends tags; existing tags are kept.
func (gw *Gateway) handleAddFindingTags(w http.ResponseWriter, r *http.Request) {
	f, err := gw.loadFinding(r, authz.EditFinding)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	fr := &fieldReader{p: body}
	add := fr.tags("tags")
	if fr.err != nil {
		writeAPIError(w, r, fr.err)
		return
	}
	if add == nil {
		writeAPIError(w, r, apierr.MissingField("tags", "This field is required."))
		return
	}
	names, err := gw.store.Live(store.EntityFinding, f.ID, store.TagField).Append(r.Context(), *add)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tags": names})
}

// --- request/response captures ---

func (gw *Gateway) handleGetRequestResponse(w http.ResponseWriter, r *http.Request) {
	f, err := gw.loadFinding(r, authz.View)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	var order []string
	if o := strings.TrimSpace(r.URL.Query().Get("ordering")); o != "" {
		if o != "id" && o != "-id" {
			writeAPIError(w, r, apierr.Validation("ordering", "Ordering must be id or -id."))
			return
		}
		order = append(order, o)
	}
	rec, err := reqresp.Project(r.Context(), gw.store.Captures(f.ID), order...)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if pretty, _ := strconv.ParseBool(r.URL.Query().Get("pretty")); pretty {
		writePrettyJSON(w, http.StatusOK, map[string]any{"req_resp": json.RawMessage(rec.Indent())})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"req_resp": json.RawMessage(rec.String())})
}

func (gw *Gateway) handleAddRequestResponse(w http.ResponseWriter, r *http.Request) {
	f, err := gw.loadFinding(r, authz.EditFinding)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	fr := &fieldReader{p: body}
	raw, ok := fr.value("req_resp")
	if fr.err != nil {
		writeAPIError(w, r, fr.err)
		return
	}
	if !ok {
		writeAPIError(w, r, apierr.MissingField("req_resp", "This field is required."))
		return
	}
	rec, err := reqresp.Parse(raw)
	if err != nil {
		if e, ok := apierr.As(err); ok {
			e.WithField("req_resp")
		}
		writeAPIError(w, r, err)
		return
	}
	captures := gw.store.Captures(f.ID)
	if err := captures.Add(r.Context(), rec); err != nil {
		writeAPIError(w, r, err)
		return
	}
	all, err := reqresp.Project(r.Context(), captures)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"req_resp": json.RawMessage(all.String())})
}

// --- notes ---

func (gw *Gateway) handleListNotes(w http.ResponseWriter, r *http.Request) {
	f, err := gw.loadFinding(r, authz.View)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	notes, err := gw.store.ListNotes(r.Context(), f.ID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if notes == nil {
		notes = []models.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (gw *Gateway) handleAddNote(w http.ResponseWriter, r *http.Request) {
	f, err := gw.loadFinding(r, authz.AddNote)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	fr := &fieldReader{p: body}
	entry, private := fr.str("entry"), fr.boolean("private")
	if fr.err != nil {
		writeAPIError(w, r, fr.err)
		return
	}
	if entry == nil || strings.TrimSpace(*entry) == "" {
		writeAPIError(w, r, apierr.MissingField("entry", "This field is required."))
		return
	}
	n := models.Note{FindingID: f.ID, Entry: *entry, Author: currentUser(r).Name}
	apply(&n.Private, private)
	n, err = gw.store.AddNote(r.Context(), n)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (gw *Gateway) handleEditNote(w http.ResponseWriter, r *http.Request) {
	f, err := gw.loadFinding(r, authz.AddNote)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	noteID, err := pathID(r, "note_id")
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	n, err := gw.store.GetNote(r.Context(), f.ID, noteID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	fr := &fieldReader{p: body}
	entry := fr.str("entry")
	if fr.err != nil {
		writeAPIError(w, r, fr.err)
		return
	}
	if entry == nil || strings.TrimSpace(*entry) == "" {
		writeAPIError(w, r, apierr.MissingField("entry", "This field is required."))
		return
	}
	n, err = gw.store.EditNote(r.Context(), n, *entry, currentUser(r).Name)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
