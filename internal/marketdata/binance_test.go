package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	apperrors "perpsim/pkg/errors"
)

func TestBinanceSourceKlinesPaging(t *testing.T) {
	const step = int64(60_000)
	var starts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		starts = append(starts, q.Get("startTime"))
		limit, _ := strconv.Atoi(q.Get("limit"))

		// First request carries no cursor and gets a full page from 0;
		// the follow-up gets a short page from its cursor.
		n := limit
		start := int64(0)
		if cs := q.Get("startTime"); cs != "" {
			start, _ = strconv.ParseInt(cs, 10, 64)
			n = 3
		}
		rows := make([]string, 0, n)
		for i := 0; i < n; i++ {
			ts := start + int64(i)*step
			rows = append(rows, fmt.Sprintf(`[%d,"100.5","101.0","99.5","100.75","12.5",%d,"1260.0",42,"6.0","600.0","0"]`, ts, ts+step-1))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	}))
	defer server.Close()

	src := NewBinanceSource(server.URL, nil)
	bars, err := src.GetKlines(context.Background(), "BTCUSDT", "1m", 0, 0, 0)
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(bars) != 1503 {
		t.Fatalf("got %d bars, want 1503 (full page + short page)", len(bars))
	}
	if len(starts) != 2 || starts[0] != "" {
		t.Fatalf("request cursors = %v, want two requests starting without a cursor", starts)
	}
	if want := strconv.FormatInt(1500*step, 10); starts[1] != want {
		t.Errorf("second cursor = %s, want %s", starts[1], want)
	}
	last := bars[len(bars)-1]
	if last.Symbol != "BTCUSDT" || last.Open != 100.5 || last.CloseTime != last.OpenTime+step-1 {
		t.Errorf("last bar = %+v", last)
	}
}

func TestBinanceSourceKlinesLimit(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit != 7 {
			t.Errorf("page limit = %d, want 7", limit)
		}
		rows := make([]string, 0, limit)
		for i := 0; i < limit; i++ {
			ts := int64(60_000 * (i + 1))
			rows = append(rows, fmt.Sprintf(`[%d,"1","1","1","1","1",%d]`, ts, ts+59_999))
		}
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	}))
	defer server.Close()

	bars, err := NewBinanceSource(server.URL, nil).GetKlines(context.Background(), "ETHUSDT", "1m", 60_000, 0, 7)
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(bars) != 7 {
		t.Errorf("got %d bars, want 7", len(bars))
	}
	if requests != 1 {
		t.Errorf("made %d requests, want 1 once the limit is met", requests)
	}
}

func TestBinanceSourceKlinesUnknownInterval(t *testing.T) {
	src := NewBinanceSource("http://127.0.0.1:0", nil)
	if _, err := src.GetKlines(context.Background(), "BTCUSDT", "2m", 0, 0, 0); !errors.Is(err, apperrors.ErrInvalidParam) {
		t.Errorf("err = %v, want ErrInvalidParam", err)
	}
}

func TestBinanceSourceKlinesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer server.Close()

	if _, err := NewBinanceSource(server.URL, nil).GetKlines(context.Background(), "NOPE", "1m", 0, 0, 5); err == nil {
		t.Fatal("expected an error from a 400 response")
	}
}

func TestBinanceSourceFundingPagingAndFilter(t *testing.T) {
	const period = int64(28_800_000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/fundingRate" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var rows []string
		if r.URL.Query().Get("startTime") == "" {
			for i := 1; i <= 1000; i++ {
				rows = append(rows, fmt.Sprintf(`{"symbol":"BTCUSDT","fundingTime":%d,"fundingRate":"0.00010000"}`, int64(i)*period))
			}
		} else {
			// Short page; the second row lies past endMS and must be
			// filtered off by the client.
			rows = []string{
				fmt.Sprintf(`{"symbol":"BTCUSDT","fundingTime":%d,"fundingRate":"-0.00020000"}`, 1001*period),
				fmt.Sprintf(`{"symbol":"BTCUSDT","fundingTime":%d,"fundingRate":"0.00030000"}`, 1002*period),
			}
		}
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	}))
	defer server.Close()

	endMS := 1001*period + 10
	events, err := NewBinanceSource(server.URL, nil).GetFundingRates(context.Background(), "BTCUSDT", 0, endMS)
	if err != nil {
		t.Fatalf("GetFundingRates: %v", err)
	}
	if len(events) != 1001 {
		t.Fatalf("got %d events, want 1001", len(events))
	}
	if events[0].TimeMS != period || events[0].Rate != 0.0001 {
		t.Errorf("first event = %+v", events[0])
	}
	if last := events[len(events)-1]; last.TimeMS != 1001*period || last.Rate != -0.0002 {
		t.Errorf("last event = %+v", last)
	}
}
