package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/domain/repository"
)

const maxLogLimit = 200

type LogHandler struct {
	logRepo repository.APILogRepository
	logger  *zap.Logger
}

func NewLogHandler(logRepo repository.APILogRepository, logger *zap.Logger) *LogHandler {
	return &LogHandler{logRepo: logRepo, logger: logger}
}

// LogViewer serves a small HTML page over the log endpoints
func (h *LogHandler) LogViewer(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/html")
	return c.SendString(logViewerHTML)
}

func logLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", 50)
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	return limit
}

// GetLogs godoc
// @Summary Latest content store calls
// @Tags logs
// @Produce json
// @Param limit query int false "Max entries" default(50)
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/logs [get]
func (h *LogHandler) GetLogs(c *fiber.Ctx) error {
	limit := logLimit(c)
	logs, err := h.logRepo.FindAll(c.UserContext(), limit)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewPagedResponse(logs, len(logs), limit, 0, "Logs retrieved successfully"))
}

// SearchLogs godoc
// @Summary Search content store calls by endpoint, actor or body
// @Tags logs
// @Produce json
// @Param q query string true "Search term"
// @Param limit query int false "Max entries" default(50)
// @Success 200 {object} entity.APIResponse
// @Failure 400 {object} entity.APIResponse
// @Router /api/v1/logs/search [get]
func (h *LogHandler) SearchLogs(c *fiber.Ctx) error {
	term := c.Query("q")
	if term == "" {
		return c.Status(fiber.StatusBadRequest).JSON(
			entity.NewErrorResponse("BAD_REQUEST", "q parameter required"),
		)
	}

	limit := logLimit(c)
	logs, err := h.logRepo.Search(c.UserContext(), term, limit)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewPagedResponse(logs, len(logs), limit, 0, "Logs retrieved successfully"))
}

const logViewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Content store calls</title>
<style>
body { font-family: sans-serif; margin: 20px; }
table { border-collapse: collapse; width: 100%; }
th, td { border-bottom: 1px solid #ddd; padding: 6px; text-align: left; font-size: 13px; }
.err { color: #c0392b; font-weight: bold; }
pre { background: #f4f4f4; padding: 10px; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>Content store calls</h1>
<input id="q" placeholder="endpoint, actor or body text" onkeypress="if(event.key==='Enter')load()">
<button onclick="load()">Search</button>
<div id="out"></div>
<pre id="detail"></pre>
<script>
let rows = [];
function esc(s) { return (s || '').replace(/&/g, '&amp;').replace(/</g, '&lt;').replace(/>/g, '&gt;'); }
async function load() {
  const q = document.getElementById('q').value.trim();
  const url = q ? '/api/v1/logs/search?q=' + encodeURIComponent(q) : '/api/v1/logs?limit=50';
  const res = await (await fetch(url)).json();
  rows = res.data || [];
  let html = '<table><tr><th>Time</th><th>Actor</th><th>Method</th><th>Endpoint</th><th>Status</th><th>ms</th><th></th></tr>';
  rows.forEach((l, i) => {
    const cls = l.status_code >= 200 && l.status_code < 300 ? '' : ' class="err"';
    html += '<tr><td>' + new Date(l.created_at).toLocaleString() + '</td><td>' + esc(l.actor) +
      '</td><td>' + l.method + '</td><td>' + esc(l.endpoint) + '</td><td' + cls + '>' + l.status_code +
      '</td><td>' + l.duration_ms + '</td><td><a href="#" onclick="show(' + i + ')">bodies</a></td></tr>';
  });
  document.getElementById('out').innerHTML = html + '</table>';
}
function show(i) {
  document.getElementById('detail').textContent = rows[i].request_body + '\n\n' + rows[i].response_body;
}
load();
</script>
</body>
</html>`
