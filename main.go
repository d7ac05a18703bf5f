package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/bsaid97/go-overlap-resolver/handlers"
	"github.com/bsaid97/go-overlap-resolver/utils"
	"github.com/joho/godotenv"
	"github.com/twpayne/go-geos"
)

// resolveRequest is the direct-JSON request body: named layers plus the
// resolution config (JSON is valid YAML, so the config part goes through the
// same parser as uploaded YAML files).
type resolveRequest struct {
	Layers []struct {
		Name       string          `json:"name"`
		Collection json.RawMessage `json:"collection"`
	} `json:"layers"`
	Config json.RawMessage `json:"config"`
}

type resolveResponse struct {
	Report     handlers.ResolveReport    `json:"report"`
	Collection handlers.OutputCollection `json:"collection"`
}

type checkGeometryResponse struct {
	Issues   []handlers.GeometryIssue `json:"issues"`
	Warnings []string                 `json:"warnings,omitempty"`
}

func main() {
	_ = godotenv.Load(".env")

	log.Printf("=== Starting Overlap Resolver Server ===")

	// Register handlers
	http.HandleFunc("/resolve-overlaps", resolveOverlapsHandler)
	http.HandleFunc("/check-geometry", checkGeometryHandler)
	http.HandleFunc("/dissolve", dissolveHandler)

	log.Printf("Registered all HTTP handlers")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server is listening on port %s...", port)
	fmt.Printf("Server is listening on port %s...\n", port)

	err := http.ListenAndServe(":"+port, nil)
	if err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) string {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method, only POST allowed", http.StatusMethodNotAllowed)
		return ""
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return ""
	}
	defer r.Body.Close()

	return string(body)
}

// readLayers extracts the layer payloads and config bytes from either a
// direct JSON body or a multipart upload.
func readLayers(w http.ResponseWriter, r *http.Request) ([]utils.RawLayer, []byte, bool) {
	contentType := r.Header.Get("Content-Type")

	if strings.Contains(contentType, "application/json") {
		body := readBody(w, r)
		if body == "" {
			return nil, nil, false
		}

		var request resolveRequest
		if err := json.Unmarshal([]byte(body), &request); err != nil {
			http.Error(w, fmt.Sprintf("ERROR: Invalid request body: %v", err), http.StatusBadRequest)
			return nil, nil, false
		}

		layers := make([]utils.RawLayer, 0, len(request.Layers))
		for _, layer := range request.Layers {
			layers = append(layers, utils.RawLayer{Name: layer.Name, Data: layer.Collection})
		}
		return layers, request.Config, true
	}

	form, err := utils.ReadResolutionForm(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("ERROR: Invalid multipart form: %v", err), http.StatusBadRequest)
		return nil, nil, false
	}
	if len(form.Layers) == 0 {
		http.Error(w, "ERROR: No layer files found", http.StatusBadRequest)
		return nil, nil, false
	}

	return form.Layers, form.ConfigData, true
}

func resolveOverlapsHandler(w http.ResponseWriter, r *http.Request) {
	// Add panic recovery to prevent server crashes
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("PANIC recovered in resolveOverlapsHandler: %v", rec)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}()

	log.Printf("=== Overlap resolution request received ===")

	layers, configData, ok := readLayers(w, r)
	if !ok {
		return
	}

	cfg, err := resolveConfig(configData)
	if err != nil {
		sendFailureResponse(w, http.StatusBadRequest, err)
		return
	}

	ctrl := utils.NewResolutionController(nil)

	if cfg.OutputFormat == "shapefile" {
		zipData, report, err := handlers.ResolveOverlapsWithShapefile(layers, cfg, ctrl)
		if err != nil {
			sendFailureResponse(w, http.StatusInternalServerError, err)
			return
		}
		log.Printf("Resolution %s. Sending zip response", report.Outcome)
		sendZipResponse(w, zipData)
		return
	}

	result, err := handlers.ResolveOverlaps(layers, cfg, ctrl)
	if err != nil {
		sendFailureResponse(w, http.StatusInternalServerError, err)
		return
	}

	response, err := json.Marshal(resolveResponse{
		Report:     result.Report,
		Collection: result.Collection,
	})
	if err != nil {
		http.Error(w, "ERROR: Failed to encode response", http.StatusInternalServerError)
		return
	}

	log.Printf("Resolution %s. Sending response", result.Report.Outcome)
	sendResponse(w, response)
}

// resolveConfig parses the request's config bytes, falling back to the file
// named by CONFIG_PATH (from .env) when the request carries none.
func resolveConfig(configData []byte) (*utils.Config, error) {
	if len(configData) > 0 {
		return utils.ParseConfig(configData)
	}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return utils.LoadConfig(path)
	}
	return nil, &utils.ConfigurationError{Reason: "missing resolution config"}
}

func checkGeometryHandler(w http.ResponseWriter, r *http.Request) {
	layers, _, ok := readLayers(w, r)
	if !ok {
		return
	}

	store, warnings, err := handlers.LoadLayers(layers, nil, false, utils.NewResolutionController(nil))
	if err != nil {
		http.Error(w, fmt.Sprintf("ERROR: %v", err), http.StatusBadRequest)
		return
	}

	response := checkGeometryResponse{
		Issues:   handlers.CheckGeometry(store),
		Warnings: warnings,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func dissolveHandler(w http.ResponseWriter, r *http.Request) {
	body := readBody(w, r)
	if body == "" {
		return
	}

	geo, err := geos.NewGeomFromGeoJSON(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("ERROR: Invalid geometry: %v", err), http.StatusBadRequest)
		return
	}

	geo = geo.MakeValid()
	numGeometries := geo.NumGeometries()
	geometries := make([]*geos.Geom, numGeometries)
	for i := 0; i < numGeometries; i++ {
		geometries[i] = geo.Geometry(i).Buffer(0, 8)
	}

	finalUnion, err := handlers.CascadedUnion(geometries)
	if err != nil {
		http.Error(w, fmt.Sprintf("ERROR: Union failed: %v", err), http.StatusInternalServerError)
		return
	}

	truncated, err := utils.TruncateFullGeometry(finalUnion, utils.DefaultPrecision)
	if err != nil {
		http.Error(w, fmt.Sprintf("ERROR: %v", err), http.StatusInternalServerError)
		return
	}

	fmt.Println("Union complete", truncated.IsValidReason())
	jsonFeature := truncated.MakeValidWithParams(geos.MakeValidStructure, geos.MakeValidDiscardCollapsed).ToGeoJSON(-1)
	sendResponse(w, []byte(jsonFeature))
	finalUnion.Destroy()
}

// sendFailureResponse reports a pass that could not run, as a failed report
// rather than a bare error string.
func sendFailureResponse(w http.ResponseWriter, status int, err error) {
	log.Printf("Overlap resolution failed: %v", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resolveResponse{Report: handlers.FailureReport(err)})
}

func sendResponse(w http.ResponseWriter, response []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}

func sendZipResponse(w http.ResponseWriter, zipData []byte) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\"resolved_overlaps.zip\"")
	w.WriteHeader(http.StatusOK)
	w.Write(zipData)
}
