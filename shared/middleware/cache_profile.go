package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type CacheLocation int

const (
	CacheAny CacheLocation = iota
	CacheClient
	CacheNone
)

// CacheProfile describes the caching a response allows downstream. Duration
// is in seconds.
type CacheProfile struct {
	Duration int
	Location CacheLocation
	NoStore  bool
}

// NoStoreProfile forbids caching anywhere.
var NoStoreProfile = CacheProfile{Duration: 0, Location: CacheNone, NoStore: true}

func ApplyCacheProfile(h http.Header, p CacheProfile) {
	var directives []string
	pragma := false

	if p.NoStore {
		directives = append(directives, "no-store")
		if p.Location == CacheNone {
			directives = append(directives, "no-cache")
			pragma = true
		}
	} else {
		switch p.Location {
		case CacheAny:
			directives = append(directives, "public")
		case CacheClient:
			directives = append(directives, "private")
		case CacheNone:
			directives = append(directives, "no-cache")
			pragma = true
		}
		directives = append(directives, "max-age="+strconv.Itoa(p.Duration))
	}

	h.Set("Cache-Control", strings.Join(directives, ","))
	if pragma {
		h.Set("Pragma", "no-cache")
	} else {
		h.Del("Pragma")
	}
}

// ResponseCache applies p before the handler runs.
func ResponseCache(p CacheProfile) gin.HandlerFunc {
	return func(c *gin.Context) {
		ApplyCacheProfile(c.Writer.Header(), p)
		c.Next()
	}
}
