package rangefetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/copc/logging"
	"go.viam.com/copc/mirror"
)

func TestS3TransportRange(t *testing.T) {
	object := testObject(4096)
	var mu sync.Mutex
	var gotRanges, gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotRanges = append(gotRanges, r.Header.Get("Range"))
		gotPaths = append(gotPaths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		http.ServeContent(w, r, "tile.copc.laz", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), bytes.NewReader(object))
	}))
	defer srv.Close()

	transport, err := NewS3Transport(S3Options{
		Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
		Region:          "us-east-1",
		AccessKeyID:     "access",
		SecretAccessKey: "secret",
	})
	test.That(t, err, test.ShouldBeNil)
	f := NewFetcher(transport, "lidar", "tile.copc.laz", mirror.NewMemoryMirror(), logging.NewTestLogger(t))

	data, err := f.Fetch(context.Background(), mirror.NewByteRange(100, 32))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, object[100:132])

	data, err = f.Fetch(context.Background(), mirror.NewByteRange(4095, 1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, object[4095:])

	mu.Lock()
	defer mu.Unlock()
	test.That(t, gotRanges, test.ShouldResemble, []string{"bytes=100-131", "bytes=4095-4095"})
	test.That(t, gotPaths[0], test.ShouldEqual, "/lidar/tile.copc.laz")
}

func TestS3TransportRequiresEndpoint(t *testing.T) {
	_, err := NewS3Transport(S3Options{})
	test.That(t, err, test.ShouldNotBeNil)
}
