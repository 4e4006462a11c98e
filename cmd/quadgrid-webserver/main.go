// SPDX-License-Identifier: MIT

// Webserver for quadgrid. It answers coordinate/qid conversions over HTTP
// and serves the latest grid export built by quadgrid-builder.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quadgrid/quadgrid-go/qtree"
)

var (
	encodeRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quadgrid_encode_requests_total",
		Help: "Number of coordinate-to-qid requests handled.",
	})
	decodeRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quadgrid_decode_requests_total",
		Help: "Number of qid-to-coordinate requests handled.",
	})
)

func main() {
	port := flag.Int("port", 0, "port for serving HTTP requests")
	data := flag.String("data", "./cache/quadgrid-builder", "directory with grid exports for serving")
	flag.Parse()

	if *port == 0 {
		*port, _ = strconv.Atoi(os.Getenv("PORT"))
	}

	prometheus.MustRegister(encodeRequests, decodeRequests)

	server := NewWebserver()
	loader, err := NewDataLoader(*data)
	if err != nil {
		// Conversions still work without a grid export; only the
		// download handler needs one.
		log.Printf("no grid export available yet: %v", err)
	} else {
		server.loader = loader
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		go func() {
			for range ticker.C {
				if err := loader.Reload(); err != nil {
					// Log an error, but keep serving previous data.
					log.Printf("failed to reload data: %q", err)
				}
			}
		}()
	}

	http.HandleFunc("/encode", server.HandleEncode)
	http.HandleFunc("/decode", server.HandleDecode)
	http.HandleFunc("/download/quadgrid.qgx", server.HandleDownload)
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("Listening for HTTP requests on port %d", *port)
	log.Fatal(http.ListenAndServe(":"+strconv.Itoa(*port), nil))
}

type Webserver struct {
	loader *DataLoader

	mutex  sync.Mutex
	codecs map[float64]*qtree.QTree
}

func NewWebserver() *Webserver {
	return &Webserver{codecs: make(map[float64]*qtree.QTree)}
}

// maxCodecs caps the per-resolution cache. The resolution comes straight
// from the query string, so the cache must not grow with client-chosen
// values; a QTree is cheap enough to build per request once the cap is hit.
const maxCodecs = 64

// codec returns the QTree for the res query parameter, building it on
// first use. Codecs are immutable, so they are shared across requests.
func (ws *Webserver) codec(param string) (*qtree.QTree, error) {
	res, err := strconv.ParseFloat(param, 64)
	if err != nil {
		return nil, fmt.Errorf("bad res parameter %q", param)
	}

	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	if tree, ok := ws.codecs[res]; ok {
		return tree, nil
	}
	tree, err := qtree.New(qtree.Config{Resolution: res})
	if err != nil {
		return nil, err
	}
	if len(ws.codecs) < maxCodecs {
		ws.codecs[res] = tree
	}
	return tree, nil
}

type encodeResponse struct {
	Resolution float64 `json:"resolution"`
	Lon        float64 `json:"lon"`
	Lat        float64 `json:"lat"`
	Qid        int64   `json:"qid"`
}

func (ws *Webserver) HandleEncode(w http.ResponseWriter, r *http.Request) {
	encodeRequests.Inc()
	tree, err := ws.codec(r.FormValue("res"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lon, err := strconv.ParseFloat(r.FormValue("lon"), 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad lon parameter %q", r.FormValue("lon")), http.StatusBadRequest)
		return
	}
	lat, err := strconv.ParseFloat(r.FormValue("lat"), 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad lat parameter %q", r.FormValue("lat")), http.StatusBadRequest)
		return
	}
	qid, err := tree.Encode(lon, lat)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, encodeResponse{
		Resolution: tree.Resolution(),
		Lon:        lon,
		Lat:        lat,
		Qid:        int64(qid),
	})
}

type decodeResponse struct {
	Resolution float64 `json:"resolution"`
	Qid        int64   `json:"qid"`
	Lon        float64 `json:"lon"`
	Lat        float64 `json:"lat"`
}

func (ws *Webserver) HandleDecode(w http.ResponseWriter, r *http.Request) {
	decodeRequests.Inc()
	tree, err := ws.codec(r.FormValue("res"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	qid, err := strconv.ParseInt(r.FormValue("qid"), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad qid parameter %q", r.FormValue("qid")), http.StatusBadRequest)
		return
	}
	lon, lat, err := tree.Decode(qtree.Qid(qid))
	if err != nil {
		if errors.Is(err, qtree.ErrQidRange) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			http.Error(w, http.StatusText(http.StatusInternalServerError),
				http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, decodeResponse{
		Resolution: tree.Resolution(),
		Qid:        qid,
		Lon:        lon,
		Lat:        lat,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (ws *Webserver) HandleDownload(w http.ResponseWriter, req *http.Request) {
	if ws.loader == nil {
		http.NotFound(w, req)
		return
	}
	filename, sha := ws.loader.Get()
	f, err := os.Open(filepath.Join(ws.loader.Path, filename))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError),
			http.StatusInternalServerError)
		return
	}
	defer f.Close()

	// As per https://tools.ietf.org/html/rfc7232, ETag must have quotes.
	w.Header().Set("ETag", fmt.Sprintf(`"%s"`, sha))

	// Last-Modified is optional; http.ServeContent omits it for zero time.
	var lastModified time.Time
	if fstat, err := f.Stat(); err == nil {
		lastModified = fstat.ModTime()
	}
	http.ServeContent(w, req, filename, lastModified, f)
}
