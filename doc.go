// Package fastvm is a single-host virtual machine orchestration engine.
//
// # Overview
//
// fastvm keeps a durable catalog of VM definitions, volumes, snapshots and
// base images, launches each VM as a supervised QEMU process, relays the
// VM's SPICE or VNC display to browsers over WebSocket and samples host and
// per-VM telemetry into bounded histories.
//
// The engine consists of these components:
//   - Registry: JSON file catalog with per-VM critical sections
//   - Allocator: console ports, MAC addresses and disk paths
//   - Supervisor: builds hypervisor command lines, starts, stops and adopts processes
//   - Console proxy: WebSocket to TCP display relay with session tracking
//   - Telemetry: sampler, per-entity rings, push hub and extended history
//   - Integrity: catalog audit and orphaned file repair
//
// # Architecture
//
//	┌─────────────────┐      ┌─────────────────┐
//	│  fastvm top     │      │  Browser        │
//	│  (telemetry)    │      │  (console)      │
//	└────────┬────────┘      └────────┬────────┘
//	         │                        │
//	┌────────▼────────────────────────▼────────┐
//	│  API Server (Echo REST + WebSocket)      │
//	└────────────────────┬─────────────────────┘
//	                     │
//	┌────────────────────▼─────────────────────┐
//	│  Engine                                  │
//	│  registry · supervisor · console proxy   │
//	│  telemetry · integrity · scheduler       │
//	└────────┬──────────────────────┬──────────┘
//	         │                      │
//	┌────────▼────────┐    ┌────────▼────────┐
//	│  qemu processes │    │  JSON catalog   │
//	└─────────────────┘    └─────────────────┘
//
// # Usage
//
// Write a default configuration and start the server:
//
//	fastvm config init config.yaml
//	fastvm server --config config.yaml
//
// Check VM descriptors before submitting them:
//
//	fastvm validate web.yaml db.json
//
// Follow live telemetry and audit the catalog:
//
//	fastvm top --url http://localhost:8000
//	fastvm integrity scan
//	fastvm integrity repair --dry-run
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (config.yaml)
//   - Environment variables (FVM_ prefix, e.g. FVM_SERVER_PORT)
//   - .env file
//
// # API Endpoints
//
// Virtual Machines:
//   - GET    /api/v1/vms                      - List VMs (paginated)
//   - POST   /api/v1/vms                      - Create VM
//   - GET    /api/v1/vms/:id                  - Get VM
//   - PUT    /api/v1/vms/:id                  - Update stopped VM
//   - DELETE /api/v1/vms/:id                  - Delete VM
//   - POST   /api/v1/vms/:id/start            - Start VM
//   - POST   /api/v1/vms/:id/stop             - Stop VM
//   - POST   /api/v1/vms/:id/restart          - Restart VM
//   - POST   /api/v1/vms/:id/clone            - Clone VM
//   - GET    /api/v1/vms/:id/logs             - Hypervisor log tail
//
// Volumes and Snapshots:
//   - GET    /api/v1/volumes                  - List volumes
//   - POST   /api/v1/volumes                  - Create volume
//   - DELETE /api/v1/volumes/:id              - Delete volume
//   - POST   /api/v1/vms/:id/volumes/:vol     - Attach volume
//   - DELETE /api/v1/vms/:id/volumes/:vol     - Detach volume
//   - GET    /api/v1/vms/:id/snapshots        - List snapshots
//   - POST   /api/v1/vms/:id/snapshots        - Create snapshot
//   - POST   /api/v1/vms/:id/snapshots/:snap/restore - Restore snapshot
//
// Consoles:
//   - GET    /api/v1/vms/:id/console          - Console connection info
//   - GET    /ws/console/:id                  - Display relay (WebSocket)
//   - DELETE /api/v1/console/sessions/:sid    - Close a console session
//
// Telemetry:
//   - GET /api/v1/system/metrics              - Current host snapshot
//   - GET /api/v1/metrics/history             - In-memory rings
//   - GET /api/v1/metrics/history/extended    - Persisted history (hours, vm_id)
//   - GET /ws/metrics                         - Live frames (WebSocket)
//   - GET /metrics                            - Prometheus exposition
//
// Maintenance:
//   - POST /api/v1/validate/vm                - Validate a JSON or YAML descriptor
//   - GET  /api/v1/integrity/scan             - Audit catalog against storage
//   - POST /api/v1/integrity/repair           - Remove orphaned files
//   - GET  /api/v1/maintenance/jobs           - Background job status
//   - GET  /docs/index.html                   - Swagger UI
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Build the binary:
//
//	go build -o fastvm ./cmd/fastvm
//
// # Technology Stack
//
//   - Go 1.25+
//   - Echo v4 (Web framework)
//   - bbolt (Extended metrics history)
//   - gorilla/websocket (Console relay and telemetry push)
//   - netlink (Bridges and macvtap devices)
//   - gopsutil (Host and process sampling)
//   - Prometheus client (Metrics exposition)
//   - Swagger (API documentation)
package fastvm
