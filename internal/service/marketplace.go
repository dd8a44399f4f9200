package service

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"agora-server/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var searchSorts = map[string]bool{
	model.SortRecent:    true,
	model.SortPriceAsc:  true,
	model.SortPriceDesc: true,
	model.SortTitle:     true,
}

// MarketplaceHandler serves marketplace:* events for one session.
type MarketplaceHandler struct {
	session *Session
	deps    HandlerDeps
}

func NewMarketplaceHandler(s *Session, deps HandlerDeps) (*MarketplaceHandler, error) {
	if s == nil || deps.Store == nil || deps.Registry == nil || deps.Validate == nil || deps.Broadcast == nil {
		return nil, errMissingDependency
	}
	return &MarketplaceHandler{session: s, deps: deps}, nil
}

// Handle runs one marketplace event to completion.
func (h *MarketplaceHandler) Handle(ctx context.Context, ev model.MarketplaceEvent, data json.RawMessage) error {
	switch ev {
	case model.MarketplaceProductCreate:
		return h.create(ctx, data)
	case model.MarketplaceProductUpdate:
		return h.update(ctx, data)
	case model.MarketplaceProductDelete:
		return h.delete(ctx, data)
	case model.MarketplaceSearch:
		return h.search(ctx, data)
	case model.MarketplaceProductView:
		return h.view(ctx, data, true)
	case model.MarketplaceProductUnview:
		return h.view(ctx, data, false)
	}
	return model.Validationf("unsupported marketplace event %q", ev)
}

func (h *MarketplaceHandler) create(ctx context.Context, data json.RawMessage) error {
	identity := h.session.Identity
	if identity.Role != model.RoleAdmin && identity.Role != model.RoleSeller {
		return model.Forbiddenf("only sellers may list products")
	}

	var p model.ProductPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}
	if err := checkAttributes(p.Attributes); err != nil {
		return err
	}

	product, err := h.deps.Store.CreateProduct(ctx, mutationFrom(p, identity.ID))
	if err != nil {
		return storeError(err, "category")
	}

	h.deps.Broadcast.Broadcast(model.MarketplaceProductCreated, model.OK(product), "")
	logrus.WithFields(logrus.Fields{
		"session_id": h.session.ID,
		"user_id":    identity.ID,
		"product_id": product.ID,
	}).Info("product created")
	return nil
}

func (h *MarketplaceHandler) update(ctx context.Context, data json.RawMessage) error {
	var p model.UpdateProductPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}
	if err := checkAttributes(p.Attributes); err != nil {
		return err
	}

	sellerID, err := h.authorizeOwner(ctx, p.ProductID)
	if err != nil {
		return err
	}

	product, err := h.deps.Store.UpdateProduct(ctx, p.ProductID, mutationFrom(p.ProductPayload, sellerID))
	if err != nil {
		return storeError(err, "product")
	}
	h.emitToViewers(p.ProductID, model.MarketplaceProductUpdated, model.OK(product))
	return nil
}

func (h *MarketplaceHandler) delete(ctx context.Context, data json.RawMessage) error {
	var p model.ProductRefPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}

	if _, err := h.authorizeOwner(ctx, p.ProductID); err != nil {
		return err
	}
	if err := h.deps.Store.DeleteProduct(ctx, p.ProductID); err != nil {
		return storeError(err, "product")
	}
	h.emitToViewers(p.ProductID, model.MarketplaceProductDeleted, model.OK(model.ProductDeletion{
		ProductID: p.ProductID,
		ActorID:   h.session.UserID(),
	}))
	return nil
}

// authorizeOwner resolves the product's seller before any mutation and
// checks that the session may act on it.
func (h *MarketplaceHandler) authorizeOwner(ctx context.Context, productID string) (string, error) {
	identity := h.session.Identity
	if identity.Role != model.RoleAdmin && identity.Role != model.RoleSeller {
		return "", model.Forbiddenf("only sellers may modify products")
	}

	sellerID, err := h.deps.Store.ProductSeller(ctx, productID)
	if err != nil {
		return "", storeError(err, "product")
	}
	if identity.Role != model.RoleAdmin && sellerID != identity.ID {
		return "", model.Forbiddenf("product %s belongs to another seller", productID)
	}
	return sellerID, nil
}

// emitToViewers notifies the product room; the actor is acked directly when
// not viewing the product.
func (h *MarketplaceHandler) emitToViewers(productID, event string, result model.Result) {
	room := model.ProductRoom(productID)
	h.deps.Registry.EmitToRoom(room, event, result)
	if !h.deps.Registry.IsMember(h.session, room) {
		_ = h.session.Send(event, result)
	}
}

func (h *MarketplaceHandler) search(ctx context.Context, data json.RawMessage) error {
	var f model.SearchFilter
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &f); err != nil {
			return model.Validationf("malformed search filter: %v", err)
		}
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return model.Validationf("minPrice exceeds maxPrice")
	}

	f = NormalizeSearch(f, h.deps.Search)
	items, total, err := h.deps.Store.SearchProducts(ctx, f)
	if err != nil {
		return storeError(err, "product")
	}
	if items == nil {
		items = []*model.Product{}
	}

	return h.session.Send(model.MarketplaceSearchResult, model.OK(model.SearchPage{
		Items:    items,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
		HasMore:  (f.Page+1)*f.PageSize < total,
	}))
}

func (h *MarketplaceHandler) view(ctx context.Context, data json.RawMessage, join bool) error {
	var p model.ProductRefPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}

	room := model.ProductRoom(p.ProductID)
	if !join {
		h.deps.Registry.Leave(h.session, room)
		return nil
	}
	if _, err := h.deps.Store.ProductSeller(ctx, p.ProductID); err != nil {
		return storeError(err, "product")
	}
	return h.deps.Registry.Join(h.session, room)
}

// Close is a no-op; product rooms are released with the session.
func (h *MarketplaceHandler) Close() {}

// NormalizeSearch clamps paging and coerces unknown sort keys to "recent".
func NormalizeSearch(f model.SearchFilter, limits SearchLimits) model.SearchFilter {
	def, max := limits.DefaultPageSize, limits.MaxPageSize
	if max <= 0 {
		max = maxPageSize
	}
	if def <= 0 {
		def = defaultPageSize
	}
	if def > max {
		def = max
	}

	switch {
	case f.PageSize == 0:
		f.PageSize = def
	case f.PageSize < 1:
		f.PageSize = 1
	case f.PageSize > max:
		f.PageSize = max
	}
	if f.Page < 0 {
		f.Page = 0
	}
	// (page+1)*pageSize must not overflow in offset and hasMore math
	if maxPage := math.MaxInt/f.PageSize - 1; f.Page > maxPage {
		f.Page = maxPage
	}
	f.SortBy = strings.ToLower(strings.TrimSpace(f.SortBy))
	if !searchSorts[f.SortBy] {
		f.SortBy = model.SortRecent
	}
	f.Query = strings.TrimSpace(f.Query)
	return f
}

func checkAttributes(attrs []model.ProductAttribute) error {
	for _, a := range attrs {
		switch a.Type {
		case model.AttributeNumber:
			if _, err := strconv.ParseFloat(a.Value, 64); err != nil {
				return model.Validationf("attribute %s: %q is not a number", a.Name, a.Value)
			}
		case model.AttributeBoolean:
			if _, err := strconv.ParseBool(a.Value); err != nil {
				return model.Validationf("attribute %s: %q is not a boolean", a.Name, a.Value)
			}
		}
	}
	return nil
}

func mutationFrom(p model.ProductPayload, sellerID string) model.ProductMutation {
	return model.ProductMutation{
		SellerID:    sellerID,
		Title:       strings.TrimSpace(p.Title),
		Description: p.Description,
		Price:       p.Price,
		Currency:    strings.ToUpper(p.Currency),
		Stock:       p.Stock,
		CategoryIDs: p.CategoryIDs,
		Attributes:  p.Attributes,
	}
}
