package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/authz"
	"github.com/CosmoTheDev/ctrlscan-api/internal/taggable"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

const dateLayout = "2006-01-02"

var trackerProviders = map[string]bool{"github": true, "gitlab": true, "jira": true}

// productWrite is a decoded product body; nil members were not supplied.
type productWrite struct {
	Name                       *string
	Description                *string
	EnableSimpleRiskAcceptance *bool
	Tags                       *tags.Collection
}

func readProduct(p payload) (productWrite, error) {
	fr := &fieldReader{p: p}
	w := productWrite{
		Name:                       fr.str("name"),
		Description:                fr.str("description"),
		EnableSimpleRiskAcceptance: fr.boolean("enable_simple_risk_acceptance"),
		Tags:                       fr.tags("tags"),
	}
	return w, fr.err
}

var productTags = taggable.Field[productWrite]{
	Name: "tags",
	Pop: func(w *productWrite) (tags.Collection, bool) {
		if w.Tags == nil {
			return nil, false
		}
		c := *w.Tags
		w.Tags = nil
		return c, true
	},
}

// products is the taggable.Store of products.
type products struct{ gw *Gateway }

func (ps products) Create(ctx context.Context, w productWrite) (models.Product, error) {
	if w.Name == nil || strings.TrimSpace(*w.Name) == "" {
		return models.Product{}, apierr.MissingField("name", "This field is required.")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	p := models.Product{Name: strings.TrimSpace(*w.Name), CreatedAt: now, UpdatedAt: now, Tags: []string{}}
	apply(&p.Description, w.Description)
	apply(&p.EnableSimpleRiskAcceptance, w.EnableSimpleRiskAcceptance)
	id, err := ps.gw.store.InsertProduct(ctx, p)
	if err != nil {
		return p, err
	}
	p.ID = id
	return p, nil
}

func (ps products) Update(ctx context.Context, existing models.Product, w productWrite) (models.Product, error) {
	p := existing
	if w.Name != nil {
		if strings.TrimSpace(*w.Name) == "" {
			return existing, apierr.Validation("name", "This field may not be blank.")
		}
		p.Name = strings.TrimSpace(*w.Name)
	}
	apply(&p.Description, w.Description)
	apply(&p.EnableSimpleRiskAcceptance, w.EnableSimpleRiskAcceptance)
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := ps.gw.store.SaveProduct(ctx, p); err != nil {
		return existing, err
	}
	return p, nil
}

func (ps products) SetTags(ctx context.Context, p models.Product, _ string, names tags.Collection) (models.Product, error) {
	if err := ps.gw.store.SetProductTags(ctx, p.ID, names); err != nil {
		return p, err
	}
	p.Tags = names
	return p, nil
}

func apply[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (gw *Gateway) handleListProducts(w http.ResponseWriter, r *http.Request) {
	pg := parsePaginationParams(r, 25, 200)
	items, total, err := gw.store.ListProducts(r.Context(), currentUser(r).Products, pg.storePage())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaginationResult(items, pg, total))
}

func (gw *Gateway) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	if err := gw.require(r, 0, authz.AddProduct); err != nil {
		writeAPIError(w, r, err)
		return
	}
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	pw, err := readProduct(body)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	p, err := taggable.New[models.Product, productWrite](products{gw}, productTags).Create(r.Context(), pw)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (gw *Gateway) loadProduct(r *http.Request, perm authz.Permission) (models.Product, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return models.Product{}, err
	}
	if err := gw.require(r, id, perm); err != nil {
		return models.Product{}, err
	}
	return gw.store.GetProduct(r.Context(), id)
}

func (gw *Gateway) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := gw.loadProduct(r, authz.View)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (gw *Gateway) handlePatchProduct(w http.ResponseWriter, r *http.Request) {
	existing, err := gw.loadProduct(r, authz.EditProduct)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	pw, err := readProduct(body)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	p, err := taggable.New[models.Product, productWrite](products{gw}, productTags).Update(r.Context(), existing, pw)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (gw *Gateway) handlePutProductTracker(w http.ResponseWriter, r *http.Request) {
	p, err := gw.loadProduct(r, authz.EditProduct)
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
	provider, project := fr.str("provider"), fr.str("project")
	pushAll, enabled := fr.boolean("push_all_issues"), fr.boolean("enabled")
	if fr.err != nil {
		writeAPIError(w, r, fr.err)
		return
	}
	if provider == nil || !trackerProviders[strings.ToLower(*provider)] {
		writeAPIError(w, r, apierr.Validation("provider", "Provider must be one of github, gitlab or jira."))
		return
	}
	if project == nil || strings.TrimSpace(*project) == "" {
		writeAPIError(w, r, apierr.MissingField("project", "This field is required."))
		return
	}
	pt := models.ProductTracker{
		ProductID: p.ID,
		Provider:  strings.ToLower(*provider),
		Project:   strings.TrimSpace(*project),
		Enabled:   true,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	apply(&pt.PushAllIssues, pushAll)
	apply(&pt.Enabled, enabled)
	if err := gw.store.PutProductTracker(r.Context(), pt); err != nil {
		writeAPIError(w, r, err)
		return
	}
	saved, err := gw.store.GetProductTracker(r.Context(), p.ID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (gw *Gateway) handleListProductLanguages(w http.ResponseWriter, r *http.Request) {
	p, err := gw.loadProduct(r, authz.View)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	langs, err := gw.store.ListLanguages(r.Context(), p.ID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if langs == nil {
		langs = []models.Language{}
	}
	writeJSON(w, http.StatusOK, langs)
}

// --- engagements ---

type engagementWrite struct {
	models.Engagement
	Tags *tags.Collection
}

// engagements is the taggable.Store of engagements; they are never updated
// through the API.
type engagements struct{ gw *Gateway }

func (es engagements) Create(ctx context.Context, w engagementWrite) (models.Engagement, error) {
	e := w.Engagement
	id, err := es.gw.store.InsertEngagement(ctx, e)
	if err != nil {
		return e, err
	}
	e.ID = id
	e.Tags = []string{}
	return e, nil
}

func (es engagements) Update(context.Context, models.Engagement, engagementWrite) (models.Engagement, error) {
	return models.Engagement{}, fmt.Errorf("engagements are immutable through the API")
}

func (es engagements) SetTags(ctx context.Context, e models.Engagement, _ string, names tags.Collection) (models.Engagement, error) {
	if err := es.gw.store.SetEngagementTags(ctx, e.ID, names); err != nil {
		return e, err
	}
	e.Tags = names
	return e, nil
}

func (gw *Gateway) handleCreateEngagement(w http.ResponseWriter, r *http.Request) {
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	fr := &fieldReader{p: body}
	productID := fr.id("product")
	name, desc := fr.str("name"), fr.str("description")
	start, end := fr.str("target_start"), fr.str("target_end")
	status, lead := fr.str("status"), fr.str("lead")
	version, build := fr.str("version"), fr.str("build_id")
	branch, commit := fr.str("branch_tag"), fr.str("commit_hash")
	tagSet := fr.tags("tags")
	if fr.err != nil {
		writeAPIError(w, r, fr.err)
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
	for _, d := range []struct {
		field string
		v     *string
	}{{"target_start", start}, {"target_end", end}} {
		if d.v == nil {
			writeAPIError(w, r, apierr.MissingField(d.field, "This field is required."))
			return
		}
		if _, err := time.Parse(dateLayout, *d.v); err != nil {
			writeAPIError(w, r, apierr.Validation(d.field, "Date has wrong format. Use YYYY-MM-DD."))
			return
		}
	}

	e := models.Engagement{
		ProductID:   *productID,
		Name:        "Engagement " + *start,
		TargetStart: *start,
		TargetEnd:   *end,
		Status:      "Not Started",
		Lead:        currentUser(r).Name,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	apply(&e.Name, name)
	apply(&e.Description, desc)
	apply(&e.Status, status)
	apply(&e.Lead, lead)
	apply(&e.Version, version)
	apply(&e.BuildID, build)
	apply(&e.BranchTag, branch)
	apply(&e.CommitHash, commit)

	adapter := taggable.New[models.Engagement, engagementWrite](engagements{gw}, taggable.Field[engagementWrite]{
		Name: "tags",
		Pop: func(ew *engagementWrite) (tags.Collection, bool) {
			if ew.Tags == nil {
				return nil, false
			}
			c := *ew.Tags
			ew.Tags = nil
			return c, true
		},
	})
	created, err := adapter.Create(r.Context(), engagementWrite{Engagement: e, Tags: tagSet})
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (gw *Gateway) handleGetEngagement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	e, err := gw.store.GetEngagement(r.Context(), id)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if err := gw.require(r, e.ProductID, authz.View); err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (gw *Gateway) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := gw.store.ListEnvironments(r.Context())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

// --- tests ---

func (gw *Gateway) loadTest(r *http.Request) (models.Test, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return models.Test{}, err
	}
	productID, err := gw.store.ProductOfTest(r.Context(), id)
	if err != nil {
		return models.Test{}, err
	}
	if err := gw.require(r, productID, authz.View); err != nil {
		return models.Test{}, err
	}
	return gw.store.GetTest(r.Context(), id)
}

func (gw *Gateway) handleGetTest(w http.ResponseWriter, r *http.Request) {
	t, err := gw.loadTest(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (gw *Gateway) handleListTestImports(w http.ResponseWriter, r *http.Request) {
	t, err := gw.loadTest(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	imports, err := gw.store.ListTestImports(r.Context(), t.ID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if imports == nil {
		imports = []models.TestImport{}
	}
	writeJSON(w, http.StatusOK, imports)
}
