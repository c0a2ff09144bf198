package frontend

import (
	"context"
	"regexp"

	"github.com/sakif/live-playground/internal/document"
	"github.com/sakif/live-playground/internal/executor"
)

const VueURL = "https://unpkg.com/vue@3/dist/vue.global.prod.js"

var vueDefaultExport = regexp.MustCompile(`(?m)^(\s*)export\s+default\s+(\{|defineComponent\()`)

// Vue mounts an App options object with the global build.
type Vue struct{}

func NewVue() *Vue { return &Vue{} }

var _ executor.Frontend = (*Vue)(nil)

func (Vue) Execute(ctx context.Context, code string, req executor.Request) (string, error) {
	return pipeline{
		deps:       []string{document.ExternalScript(VueURL, nil)},
		scriptType: "module",
		body:       vueBody,
	}.execute(ctx, code, req)
}

func vueBody(code string) string {
	// "export default {" is the options-object form; name it so it can be mounted
	code = vueDefaultExport.ReplaceAllString(code, "${1}const App = $2")
	return `const { createApp, ref, reactive, computed, watch, onMounted } = Vue;
` + guard(stripModuleSyntax(code)+`
if (typeof App !== "undefined") {
  const app = createApp(App);
  app.config.errorHandler = function (error) { __renderError("Error: ", error); };
  app.mount("#`+MountID+`");
}`)
}
