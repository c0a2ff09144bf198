package frontend

import (
	"context"

	"github.com/sakif/live-playground/internal/executor"
)

// SvelteCDN is the ES module root the compiler and its runtime imports load from.
const SvelteCDN = "https://esm.sh/svelte@4.2.19"

// Svelte compiles the component in the browser. The source travels base64
// encoded, is compiled with the external compiler, rewritten to load its runtime
// from the CDN and imported from a blob URL. Each async stage reports its own
// failure prefix so the user can tell which one broke.
type Svelte struct {
	cdn string
}

func NewSvelte() *Svelte { return &Svelte{cdn: SvelteCDN} }

var _ executor.Frontend = (*Svelte)(nil)

func (s *Svelte) Execute(ctx context.Context, code string, req executor.Request) (string, error) {
	return pipeline{
		scriptType: "module",
		body:       s.body,
	}.execute(ctx, code, req)
}

func (s *Svelte) body(code string) string {
	return `const source = ` + decodeExpr(encode(code)) + `;
let compile;
try {
  ({ compile } = await import("` + s.cdn + `/compiler"));
} catch (error) {
  __renderError("Setup error: ", error);
}
let js;
if (compile) {
  try {
    const result = compile(source, { filename: "App.svelte", css: "injected" });
    js = result.js.code.replace(/from\s+["']svelte(\/[^"']*)?["']/g, function (m, path) {
      return 'from "` + s.cdn + `' + (path || "") + '"';
    });
  } catch (error) {
    __renderError("Compile error: ", error);
  }
}
let Component;
if (js) {
  const url = URL.createObjectURL(new Blob([js], { type: "text/javascript" }));
  try {
    Component = (await import(url)).default;
  } catch (error) {
    __renderError("Load error: ", error);
  } finally {
    URL.revokeObjectURL(url);
  }
}
if (Component) {
  try {
    new Component({ target: document.getElementById("` + MountID + `") });
  } catch (error) {
    __renderError("Mount error: ", error);
  }
}`
}
