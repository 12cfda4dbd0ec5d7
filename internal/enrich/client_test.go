package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsync/internal/credential/models"
	"credsync/pkg/platform/sentinel"
)

func TestDecodeLooseWellFormed(t *testing.T) {
	var out map[string]any
	err := decodeLoose([]byte(`{"skills": []}`), &out)
	require.NoError(t, err)
	assert.Contains(t, out, "skills")
}

func TestDecodeLooseRepairsOnce(t *testing.T) {
	cases := map[string]string{
		"markdown fences": "```json\n{\"confidence\": 0.9}\n```",
		"leading prose":   "Here is the result: {\"confidence\": 0.9}",
		"trailing comma":  `{"confidence": 0.9, "keywords": ["a", "b",],}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			var out map[string]any
			err := decodeLoose([]byte(payload), &out)
			require.NoError(t, err)
			assert.InDelta(t, 0.9, out["confidence"], 0.001)
		})
	}
}

func TestDecodeLooseHardFailure(t *testing.T) {
	var out map[string]any
	err := decodeLoose([]byte("the service is thinking about it"), &out)
	require.Error(t, err)

	// Repair runs exactly once; nested garbage stays a failure.
	err = decodeLoose([]byte("{not json at all}"), &out)
	require.Error(t, err)
}

func TestExtractPostsEvidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/extract", r.URL.Path)
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		_, _ = w.Write([]byte(`{"skills": [{"name": "Welding", "confidence": 0.87}], "nsqf_level": 4, "confidence": 0.87}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, 5*time.Second, 5*time.Second)

	extracted, err := c.Extract(context.Background(), "cert.pdf", []byte("evidence"))
	require.NoError(t, err)
	require.Len(t, extracted.Skills, 1)
	assert.Equal(t, "Welding", extracted.Skills[0].Name)
	assert.Equal(t, 4, extracted.NSQFLevel)
	assert.Equal(t, models.ProvenanceModel, extracted.Provenance)
}

func TestExtractServiceDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, 5*time.Second, 5*time.Second)

	_, err := c.Extract(context.Background(), "cert.pdf", []byte("evidence"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestStackabilityAndRoadmap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /stackability", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pathways": [{"title": "Welding Level 5", "target_nsqf_level": 5, "completion": 0.6}]}`))
	})
	mux.HandleFunc("POST /generate-roadmap", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("```json\n{\"current_stage\": \"technician\", \"next_steps\": [\"supervisor course\"]}\n```"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewHTTPClient(server.URL, 5*time.Second, 5*time.Second)
	rec := models.CredentialRecord{CertificateTitle: "Welding Level 4"}
	extracted := models.AIExtracted{Provenance: models.ProvenanceModel}

	stackability, err := c.Stackability(context.Background(), rec, extracted)
	require.NoError(t, err)
	require.Len(t, stackability.Pathways, 1)
	assert.Equal(t, "Welding Level 5", stackability.Pathways[0].Title)

	pathway, err := c.Roadmap(context.Background(), rec, extracted)
	require.NoError(t, err)
	assert.Equal(t, "technician", pathway.CurrentStage)
	assert.Equal(t, []string{"supervisor course"}, pathway.NextSteps)
}
