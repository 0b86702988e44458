package gateway

import (
	"net/http"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/authz"
	"github.com/CosmoTheDev/ctrlscan-api/internal/endpoint"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

func endpointPatch(p payload) (endpoint.Patch, error) {
	var (
		ep  endpoint.Patch
		err error
	)
	keep := func(e error) {
		if err == nil {
			err = e
		}
	}
	var e error
	ep.Product, e = decodeOpt[int64](p, "product", "integer")
	keep(e)
	ep.Protocol, e = decodeOpt[string](p, "protocol", "string")
	keep(e)
	ep.Userinfo, e = decodeOpt[string](p, "userinfo", "string")
	keep(e)
	ep.Host, e = decodeOpt[string](p, "host", "string")
	keep(e)
	ep.Port, e = decodeOpt[int](p, "port", "integer")
	keep(e)
	ep.Path, e = decodeOpt[string](p, "path", "string")
	keep(e)
	ep.Query, e = decodeOpt[string](p, "query", "string")
	keep(e)
	ep.Fragment, e = decodeOpt[string](p, "fragment", "string")
	keep(e)
	fr := &fieldReader{p: p}
	ep.Tags = fr.tags("tags")
	keep(fr.err)
	return ep, err
}

func (gw *Gateway) loadEndpoint(r *http.Request, perm authz.Permission) (models.Endpoint, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return models.Endpoint{}, err
	}
	ep, err := gw.store.GetEndpoint(r.Context(), id)
	if err != nil {
		return ep, err
	}
	if err := gw.require(r, ep.ProductID, perm); err != nil {
		return models.Endpoint{}, err
	}
	return ep, nil
}

func (gw *Gateway) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	productID, err := queryID(r, "product")
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	pg := parsePaginationParams(r, 25, 200)
	items, total, err := gw.store.ListEndpoints(r.Context(), productID, currentUser(r).Products, pg.storePage())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaginationResult(items, pg, total))
}

func (gw *Gateway) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	patch, err := endpointPatch(body)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	// A missing product is reported by the resolver.
	if patch.Product.Value != nil {
		productID := *patch.Product.Value
		if _, err := gw.store.GetProduct(r.Context(), productID); err != nil {
			if apierr.IsKind(err, apierr.KindNotFound) {
				err = invalidPK("product", productID)
			}
			writeAPIError(w, r, err)
			return
		}
		if err := gw.require(r, productID, authz.AddEndpoint); err != nil {
			writeAPIError(w, r, err)
			return
		}
	}
	ep, err := gw.endpoints.Create(r.Context(), patch)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (gw *Gateway) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := gw.loadEndpoint(r, authz.View)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

// handleUpdateEndpoint serves PUT (full update) and PATCH (partial update).
func (gw *Gateway) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	existing, err := gw.loadEndpoint(r, authz.EditEndpoint)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	body, err := decodePayload(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	patch, err := endpointPatch(body)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	kind := endpoint.PartialUpdate
	if r.Method == http.MethodPut {
		kind = endpoint.Update
	}
	ep, err := gw.endpoints.Update(r.Context(), kind, existing, patch)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (gw *Gateway) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := gw.loadEndpoint(r, authz.EditEndpoint)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if err := gw.store.DeleteEndpoint(r.Context(), ep.ID); err != nil {
		writeAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
