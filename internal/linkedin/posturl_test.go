package linkedin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkedin-autodm/internal/apperrors"
)

func TestParsePostURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		id   string
		urn  string
	}{
		{
			name: "feed update urn",
			url:  "https://www.linkedin.com/feed/update/urn:li:activity:7123456789012345678/",
			id:   "7123456789012345678",
			urn:  "urn:li:activity:7123456789012345678",
		},
		{
			name: "escaped share urn",
			url:  "https://www.linkedin.com/feed/update/urn%3Ali%3Ashare%3A42",
			id:   "42",
			urn:  "urn:li:share:42",
		},
		{
			name: "ugc post",
			url:  "https://linkedin.com/feed/update/urn:li:ugcPost:99",
			id:   "99",
			urn:  "urn:li:ugcPost:99",
		},
		{
			name: "posts slug",
			url:  "https://www.linkedin.com/posts/jane-doe_ai-growth-activity-7000000000000000001-AbCd?utm_source=share",
			id:   "7000000000000000001",
			urn:  "urn:li:activity:7000000000000000001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParsePostURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.id, ref.ID)
			assert.Equal(t, tt.urn, ref.URN)
			assert.Equal(t, "https://www.linkedin.com/embed/feed/update/"+tt.urn, ref.EmbedURL)
		})
	}
}

func TestParsePostURL_Invalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"not a url",
		"ftp://www.linkedin.com/feed/update/urn:li:activity:1",
		"https://example.com/feed/update/urn:li:activity:1",
		"https://notlinkedin.com/posts/x-activity-1",
		"https://www.linkedin.com/in/janedoe",
	} {
		_, err := ParsePostURL(raw)
		require.Error(t, err, raw)
		assert.True(t, apperrors.IsValidation(err), raw)
	}
}
