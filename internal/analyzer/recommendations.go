package analyzer

import "codeberg.org/mutker/vitalsd/internal/vitals"

// recommendationsFor returns the first two advice lines for a
// needs-improvement rating and all three for poor.
func recommendationsFor(m vitals.Metric, r vitals.Rating) []string {
	var advice []string
	switch m {
	case vitals.CLS:
		advice = []string{
			"Set explicit width and height on images, videos and embeds",
			"Reserve space for late-loading banners and ads",
			"Use font-display: optional or preload web fonts to avoid layout shifts",
		}
	case vitals.LCP:
		advice = []string{
			"Preload the largest above-the-fold image and serve it in a modern format",
			"Remove render-blocking CSS and JavaScript from the critical path",
			"Server-render the hero content instead of hydrating it client-side",
		}
	case vitals.FID:
		advice = []string{
			"Break up long main-thread tasks",
			"Defer non-critical third-party scripts",
			"Move heavy computation to a web worker",
		}
	case vitals.INP:
		advice = []string{
			"Keep event handlers short and yield to the main thread",
			"Avoid large synchronous re-renders after user input",
			"Debounce expensive input handlers",
		}
	case vitals.FCP:
		advice = []string{
			"Inline critical CSS",
			"Preconnect to required origins",
			"Reduce the size of the initial HTML and JavaScript payload",
		}
	case vitals.TTFB:
		advice = []string{
			"Cache rendered pages at the edge",
			"Reduce server-side data fetching on the request path",
			"Enable HTTP/2 or HTTP/3 and keep connections warm",
		}
	default:
		return nil
	}

	if r == vitals.RatingPoor {
		return advice
	}
	return advice[:2]
}
