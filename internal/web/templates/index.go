package templates

import (
	"context"

	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/a-h/templ"
)

// IndexData is the state shown on the start page.
type IndexData struct {
	FolderMode  bool
	CounterMode core.CounterMode
	Limiter     core.RunLimiterStatus
}

const runScript = `
function startRun(form, url) {
  const status = document.getElementById('run-status');
  const bar = document.querySelector('#run-progress .bar div');
  const label = document.getElementById('run-label');
  status.hidden = false;
  label.textContent = 'Uploading...';
  fetch(url, {method: 'POST', body: new FormData(form), headers: {'Accept': 'application/json'}})
    .then(r => r.json().then(body => ({ok: r.ok, body})))
    .then(({ok, body}) => {
      if (!ok) {
        label.textContent = body.message + ' ' + (body.action || '') + ' (Code: ' + body.code + ')';
        return;
      }
      const es = new EventSource('/api/runs/' + body.runId + '/progress');
      es.addEventListener('progress', e => {
        const p = JSON.parse(e.data);
        const pct = p.total ? Math.floor(p.current * 100 / p.total) : 0;
        bar.style.width = pct + '%';
        label.textContent = p.phase + ': ' + p.current + '/' + p.total + (p.currentFile ? ' ' + p.currentFile : '');
      });
      es.addEventListener('complete', () => {
        es.close();
        window.location = '/runs/' + body.runId;
      });
    })
    .catch(err => { label.textContent = String(err); });
  return false;
}

function checkFolders(form) {
  const out = document.getElementById('folder-check');
  out.textContent = 'Checking...';
  fetch('/api/preview/folder', {method: 'POST', body: new FormData(form), headers: {'Accept': 'application/json'}})
    .then(r => r.json().then(body => ({ok: r.ok, body})))
    .then(({ok, body}) => {
      out.textContent = '';
      if (!ok) {
        out.textContent = body.message + ' ' + (body.action || '') + ' (Code: ' + body.code + ')';
        return;
      }
      const line = text => {
        const div = document.createElement('div');
        div.textContent = text;
        out.appendChild(div);
      };
      line(body.images + ' images found' + (body.dropped ? ' (' + body.dropped + ' over the per-folder limit)' : ''));
      (body.groups || []).forEach(g => line((g.group || '(root)') + ': ' + g.found + ' images'));
      (body.skipped || []).forEach(s => line('Skipped: ' + s));
      if (body.destDir) {
        line(body.destExists ? 'Destination folder exists' : 'Destination folder will be created');
      }
    })
    .catch(err => { out.textContent = String(err); });
}
`

// Index renders the start page.
func Index(data IndexData) templ.Component {
	return component(func(ctx context.Context, h *html) {
		h.raw(`<section><h2>Rename product photos</h2>`)
		h.raw(`<p>Images are named <code>SKU_CODE_NN.jpg</code>, where CODE is the first `)
		h.textf("%d", core.CodeLength)
		h.raw(` characters of the filename. At most `)
		h.textf("%d", core.MaxImagesPerGroup)
		h.raw(` images per folder are processed and every output is re-encoded as JPEG.</p>`)
		h.raw(`<p><small>Runs in progress: `)
		h.textf("%d of %d", data.Limiter.Active, data.Limiter.MaxConcurrent)
		h.raw(`</small></p></section>`)

		h.raw(`<section><h3>ZIP archive</h3>`)
		h.raw(`<form id="archive-form" onsubmit="return startRun(this, '/api/runs')">`)
		mappingInput(h)
		h.raw(`<label for="archive">Images (ZIP)</label><input type="file" id="archive" name="archive" accept=".zip" required>`)
		counterSelect(h, data.CounterMode)
		h.raw(`<button type="submit">Process</button></form></section>`)

		if data.FolderMode {
			h.raw(`<section><h3>Server folders</h3>`)
			h.raw(`<form id="folder-form" onsubmit="return startRun(this, '/api/runs/folder')">`)
			mappingInput(h)
			h.raw(`<label for="source_dir">Source folder</label><input type="text" id="source_dir" name="source_dir" required size="60">`)
			h.raw(`<label for="dest_dir">Destination folder</label><input type="text" id="dest_dir" name="dest_dir" required size="60">`)
			counterSelect(h, data.CounterMode)
			h.raw(`<button type="button" id="folder-check-button" onclick="checkFolders(this.form)">Check folders</button> `)
			h.raw(`<button type="submit">Process</button></form>`)
			h.raw(`<div id="folder-check" class="check"></div></section>`)
		}

		h.raw(`<section id="run-status" hidden><div id="run-progress"><div class="bar"><div></div></div></div>`)
		h.raw(`<p id="run-label"></p></section>`)
		h.raw(`<script>`)
		h.raw(runScript)
		h.raw(`</script>`)
	})
}

func mappingInput(h *html) {
	h.raw(`<label>SKU table (CSV with CÓDIGO and SKU columns)</label>`)
	h.raw(`<input type="file" name="csv" accept=".csv,text/csv" required>`)
}

func counterSelect(h *html, selected core.CounterMode) {
	h.raw(`<label>Sequence numbers</label><select name="counter_mode">`)
	for _, opt := range []struct {
		mode  core.CounterMode
		label string
	}{
		{core.CounterShared, "Restart whenever the code changes"},
		{core.CounterPerCode, "Independent per code"},
	} {
		h.raw(`<option value="`)
		h.text(string(opt.mode))
		h.raw(`"`)
		if opt.mode == selected {
			h.raw(` selected`)
		}
		h.raw(`>`)
		h.text(opt.label)
		h.raw(`</option>`)
	}
	h.raw(`</select>`)
}
