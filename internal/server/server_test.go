package server

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"read2me/internal/config"
	"read2me/internal/session"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// response is the subset of TwiML the call flow produces
type response struct {
	XMLName xml.Name `xml:"Response"`
	Plays   []string `xml:"Play"`
	Says    []string `xml:"Say"`
	Pause   *struct {
		Length string `xml:"length,attr"`
	} `xml:"Pause"`
	Redirect *struct {
		Method string `xml:"method,attr"`
		URL    string `xml:",chardata"`
	} `xml:"Redirect"`
	Hangup *struct{} `xml:"Hangup"`
	Gather *struct {
		Action    string   `xml:"action,attr"`
		Method    string   `xml:"method,attr"`
		NumDigits string   `xml:"numDigits,attr"`
		Timeout   string   `xml:"timeout,attr"`
		Plays     []string `xml:"Play"`
		Says      []string `xml:"Say"`
	} `xml:"Gather"`
}

type machine struct {
	intro     session.Turn
	introErr  error
	turn      session.Turn
	turnErr   error
	gotNode   string
	gotDigits string
}

func (m *machine) Intro(context.Context) (session.Turn, error) {
	return m.intro, m.introErr
}

func (m *machine) Advance(_ context.Context, nodeID, digits string) (session.Turn, error) {
	m.gotNode, m.gotDigits = nodeID, digits
	return m.turn, m.turnErr
}

func newServer(t *testing.T, m Machine, token string) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	s := New(Options{
		Machine: m,
		Server: config.ServerConfig{
			Addr:          ":0",
			PublicURL:     "https://story.example.com/",
			AudioDir:      dir,
			FlipAsset:     "flip.wav",
			GatherTimeout: 10,
		},
		Responses: config.DefaultStory().Responses,
		AuthToken: token,
		Logger:    zerolog.Nop(),
	})
	return s, dir
}

func call(t *testing.T, h http.Handler, method, target string, form url.Values) (*http.Response, response) {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := rec.Result()
	var doc response
	if strings.Contains(res.Header.Get("Content-Type"), "xml") {
		require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &doc), rec.Body.String())
	}
	return res, doc
}

const base = "https://story.example.com"

func TestIntro(t *testing.T) {
	s, _ := newServer(t, &machine{intro: session.Turn{Outcome: session.Intro, NodeID: "start-1", IntroIndex: 2}}, "")

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		res, doc := call(t, s.Handler(), method, "/", nil)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, []string{base + "/audio/intro-2.wav", base + "/audio/flip.wav"}, doc.Plays)
		require.NotNil(t, doc.Gather)
		assert.Equal(t, base+"/next?id=start-1", doc.Gather.Action)
		assert.Equal(t, "POST", doc.Gather.Method)
		assert.Equal(t, "1", doc.Gather.NumDigits)
		assert.Equal(t, "10", doc.Gather.Timeout)
		assert.Equal(t, []string{base + "/audio/start-1.wav"}, doc.Gather.Plays)
	}
}

func TestIntro_NoStory(t *testing.T) {
	s, _ := newServer(t, &machine{intro: session.Turn{Outcome: session.Failed}, introErr: session.ErrNoStartNode}, "")

	res, doc := call(t, s.Handler(), http.MethodPost, "/", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []string{config.DefaultStory().Responses.Failure}, doc.Says)
	assert.NotNil(t, doc.Hangup)
}

func TestNext_Advanced(t *testing.T) {
	m := &machine{turn: session.Turn{Outcome: session.Advanced, NodeID: "page-2"}}
	s, _ := newServer(t, m, "")

	res, doc := call(t, s.Handler(), http.MethodPost, "/next?id=page-1", url.Values{"Digits": {"2"}})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "page-1", m.gotNode)
	assert.Equal(t, "2", m.gotDigits)

	assert.Equal(t, []string{base + "/audio/flip.wav"}, doc.Plays)
	require.NotNil(t, doc.Gather)
	assert.Equal(t, base+"/next?id=page-2", doc.Gather.Action)
	assert.Equal(t, []string{base + "/audio/page-2.wav"}, doc.Gather.Plays)
}

func TestNext_InvalidChoice(t *testing.T) {
	s, _ := newServer(t, &machine{turn: session.Turn{Outcome: session.InvalidChoice, NodeID: "page-1"}}, "")

	_, doc := call(t, s.Handler(), http.MethodPost, "/next?id=page-1", url.Values{"Digits": {"5"}})
	require.NotNil(t, doc.Gather)
	assert.Equal(t, base+"/next?id=page-1", doc.Gather.Action)
	assert.Equal(t, []string{"Invalid choice. Please try again."}, doc.Gather.Says)
	assert.Empty(t, doc.Gather.Plays)
	assert.Empty(t, doc.Plays)
}

func TestNext_NotReady(t *testing.T) {
	m := &machine{turn: session.Turn{Outcome: session.NotReady, NodeID: "page-1", Target: "page-2", Digits: "3"}}
	s, _ := newServer(t, m, "")

	// Digits replayed by a redirect arrive in the query string
	_, doc := call(t, s.Handler(), http.MethodPost, "/next?id=page-1&Digits=3", url.Values{})
	assert.Equal(t, "3", m.gotDigits)

	assert.Equal(t, []string{base + "/audio/flip.wav"}, doc.Plays)
	require.NotNil(t, doc.Pause)
	assert.Equal(t, "1", doc.Pause.Length)
	require.NotNil(t, doc.Redirect)
	assert.Equal(t, "POST", doc.Redirect.Method)

	u, err := url.Parse(doc.Redirect.URL)
	require.NoError(t, err)
	assert.Equal(t, "/next", u.Path)
	assert.Equal(t, url.Values{"id": {"page-1"}, "Digits": {"3"}}, u.Query())
	assert.Nil(t, doc.Gather)
}

func TestNext_Restart(t *testing.T) {
	s, _ := newServer(t, &machine{turn: session.Turn{Outcome: session.Restart}}, "")

	_, doc := call(t, s.Handler(), http.MethodPost, "/next?id=gone", url.Values{"Digits": {"1"}})
	assert.Equal(t, []string{config.DefaultStory().Responses.PageMissing}, doc.Says)
	require.NotNil(t, doc.Redirect)
	assert.Equal(t, base+"/", doc.Redirect.URL)
}

func TestNext_ErrorIsSpoken(t *testing.T) {
	s, _ := newServer(t, &machine{turnErr: errors.New("redis: connection refused")}, "")

	res, doc := call(t, s.Handler(), http.MethodPost, "/next?id=page-1", url.Values{"Digits": {"1"}})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []string{config.DefaultStory().Responses.Failure}, doc.Says)
	assert.NotNil(t, doc.Hangup)
}

func TestAudio(t *testing.T) {
	s, dir := newServer(t, &machine{}, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page-1.wav"), []byte("RIFF"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/audio/page-1.wav", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=86400", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "RIFF", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/audio/missing.wav", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s, _ := newServer(t, &machine{}, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestSignature_RejectsUnsigned(t *testing.T) {
	m := &machine{turn: session.Turn{Outcome: session.Advanced, NodeID: "page-2"}}
	s, _ := newServer(t, m, "secret-token")

	req := httptest.NewRequest(http.MethodPost, "/next?id=page-1", strings.NewReader("Digits=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bm90IGEgc2lnbmF0dXJl")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, m.gotNode)

	// Assets and health are not webhooks
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
