package handler

import (
	"net/http"

	"github.com/aqicast/aqicast/internal/api/models"
	"github.com/aqicast/aqicast/internal/api/response"
	"github.com/aqicast/aqicast/internal/geo"
)

// LocationsHandler serves the location registry.
type LocationsHandler struct {
	registry *geo.Registry
}

// NewLocationsHandler creates a new LocationsHandler.
func NewLocationsHandler(registry *geo.Registry) *LocationsHandler {
	return &LocationsHandler{registry: registry}
}

// ListLocations handles GET /v1/locations. Locations are listed in registry order.
func (h *LocationsHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locs := h.registry.Locations()
	items := make([]models.Location, len(locs))
	for i, loc := range locs {
		items[i] = toLocation(loc)
	}
	response.JSON(w, r, http.StatusOK, models.LocationList{Items: items})
}
