package extractor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/harvest/internal/message"
)

const listingPage = `<html><body><pre>
<a href="../">[parent]</a>
<a href="one.jpg">one.jpg</a>
<a href="two.png">two.png</a>
<a href="sub/">sub/</a>
<a href="three.gif">three.gif</a>
</pre></body></html>`

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, extr Extractor) []*message.Message {
	t.Helper()
	var msgs []*message.Message
	for {
		msg, err := extr.Next(context.Background())
		if err == io.EOF {
			return msgs
		}
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

func TestListingStream(t *testing.T) {
	srv := listingServer(t)
	extr, err := NewListing(srv.URL + "/files/")
	require.NoError(t, err)

	msgs := drain(t, extr)
	require.Len(t, msgs, 5)

	assert.Equal(t, message.KindDirectory, msgs[0].Kind)
	assert.Equal(t, "files", msgs[0].Meta.String("title"))

	assert.Equal(t, message.KindURL, msgs[1].Kind)
	assert.Equal(t, srv.URL+"/files/one.jpg", msgs[1].URL)
	assert.Equal(t, "one", msgs[1].Meta.String("filename"))
	assert.Equal(t, "jpg", msgs[1].Meta.String("extension"))

	assert.Equal(t, message.KindQueue, msgs[3].Kind)
	assert.Equal(t, srv.URL+"/files/sub/", msgs[3].URL)

	assert.Equal(t, message.KindURL, msgs[4].Kind)
	assert.Equal(t, 3, msgs[4].Meta["num"])
}

func TestListingSkipBeforeFetch(t *testing.T) {
	srv := listingServer(t)
	extr, err := NewListing(srv.URL + "/files/")
	require.NoError(t, err)

	assert.Equal(t, 2, extr.Skip(2))

	var urls []string
	for _, msg := range drain(t, extr) {
		if msg.Kind == message.KindURL {
			urls = append(urls, msg.URL)
		}
	}
	require.Len(t, urls, 1)
	assert.Equal(t, srv.URL+"/files/three.gif", urls[0])
}

func TestListingPrefix(t *testing.T) {
	srv := listingServer(t)
	extr, err := NewListing("listing:" + srv.URL + "/files/")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/files/", extr.URL())
	assert.Equal(t, "listing", extr.Category())
}

func TestFindResolvesListing(t *testing.T) {
	extr, factory := Find("https://example.com/reports/current/")
	require.NotNil(t, extr)
	require.NotNil(t, factory)
	assert.Equal(t, "listing", extr.Category())

	extr, factory = Find("mailto:nobody@example.com")
	assert.Nil(t, extr)
	assert.Nil(t, factory)
}
