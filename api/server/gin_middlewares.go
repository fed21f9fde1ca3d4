// This is middleware we're using for the entire server.

package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/isoserve/isoserve/api/common"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
)

var (
	pathKey   = common.MakeKey("path")
	methodKey = common.MakeKey("method")
	statusKey = common.MakeKey("status")
	uriKey    = common.MakeKey("iso.path")

	apiRequestCountMeasure  = common.MakeMeasure("api/request_count", "Count of API requests started", stats.UnitDimensionless)
	apiResponseCountMeasure = common.MakeMeasure("api/response_count", "API response count", stats.UnitDimensionless)
	apiLatencyMeasure       = common.MakeMeasure("api/latency", "Latency distribution of API requests", stats.UnitMilliseconds)
)

// defaultLatencyDist buckets http latencies in milliseconds.
var defaultLatencyDist = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// RegisterAPIViews registers the http-level opencensus views.
func RegisterAPIViews() {
	tagKeys := []string{"path", "method"}
	err := view.Register(
		common.CreateView(apiRequestCountMeasure, view.Count(), tagKeys),
		common.CreateView(apiResponseCountMeasure, view.Count(), append(tagKeys, "status")),
		common.CreateView(apiLatencyMeasure, view.Distribution(defaultLatencyDist...), tagKeys),
	)
	if err != nil {
		logrus.WithError(err).Fatal("cannot register api views")
	}
}

func optionalCorsWrap(r *gin.Engine) {
	// By default no CORS are allowed unless one or more origins are
	// defined by the ISO_CORS_ORIGINS environment variable.
	corsStr := common.GetEnv(EnvCORSOrigins, "")
	if len(corsStr) > 0 {
		origins := strings.Split(strings.Replace(corsStr, " ", "", -1), ",")

		corsConfig := cors.DefaultConfig()
		if origins[0] == "*" {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = origins
		}

		corsHeaders := common.GetEnv(EnvCORSHeaders, "")
		if len(corsHeaders) > 0 {
			headers := strings.Split(strings.Replace(corsHeaders, " ", "", -1), ",")
			corsConfig.AllowHeaders = headers
		}

		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "HEAD", "DELETE"}

		logrus.Infof("CORS enabled for domains: %s", origins)

		r.Use(cors.New(corsConfig))
	}
}

func traceWrap(c *gin.Context) {
	ctx, err := tag.New(c.Request.Context(),
		tag.Insert(uriKey, c.Request.URL.Path),
	)
	if err != nil {
		logrus.Fatal(err)
	}

	ctx, span := trace.StartSpan(ctx, "serve_http")
	defer span.End()

	span.AddAttributes(
		trace.StringAttribute("iso.path", c.Request.URL.Path),
		trace.StringAttribute("iso.method", c.Request.Method),
	)

	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

func apiMetricsWrap(c *gin.Context) {
	ctx, err := tag.New(c.Request.Context(),
		tag.Upsert(pathKey, c.FullPath()),
		tag.Upsert(methodKey, c.Request.Method),
	)
	if err != nil {
		logrus.Fatal(err)
	}
	stats.Record(ctx, apiRequestCountMeasure.M(1))

	start := time.Now()
	c.Next()

	status := strconv.Itoa(c.Writer.Status())
	ctx, err = tag.New(ctx, tag.Upsert(statusKey, status))
	if err != nil {
		logrus.Fatal(err)
	}
	stats.Record(ctx,
		apiResponseCountMeasure.M(1),
		apiLatencyMeasure.M(time.Since(start).Milliseconds()),
	)
}

func loggerWrap(c *gin.Context) {
	ctx, _ := common.LoggerWithFields(c.Request.Context(), extractFields(c))
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

func extractFields(c *gin.Context) logrus.Fields {
	fields := logrus.Fields{"path": c.Request.URL.Path, "method": c.Request.Method}
	for _, param := range c.Params {
		fields[param.Key] = param.Value
	}
	return fields
}

func panicWrap(c *gin.Context) {
	defer func(c *gin.Context) {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("internal error: %v", rec)
			}
			handleErrorResponse(c, err)
			c.Abort()
		}
	}(c)
	c.Next()
}
