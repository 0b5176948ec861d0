// Package gcp implements the zonal adapter over Google Compute Engine,
// together with the operation waiter, the API activation guard and the
// Cloud Storage bucket helpers that share its credentials.
package gcp

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/serviceusage/v1"
	"google.golang.org/api/storage/v1"

	"cloudfleet/internal/cloud"
	"cloudfleet/internal/logging"
	"cloudfleet/internal/metrics"
)

// Defaults applied to CreateInstanceRequest fields left empty.
const (
	DefaultZone              = "us-central1-a"
	DefaultMachineType       = "n1-standard-1"
	DefaultSourceImage       = "projects/debian-cloud/global/images/family/debian-11"
	DefaultNetwork           = "global/networks/default"
	DefaultTerminationAction = "STOP"
)

var _ cloud.Provider = (*Adapter)(nil)

// Adapter implements cloud.Provider for Compute Engine
type Adapter struct {
	projects []string
	zones    []string

	compute ComputeAPI
	usage   ServiceUsageAPI
	storage StorageAPI
	waiter  Waiter
	logger  *zap.Logger

	mu    sync.Mutex
	ready map[string]bool
}

// Option customizes an Adapter
type Option func(*Adapter)

// WithComputeAPI replaces the Compute Engine client.
func WithComputeAPI(c ComputeAPI) Option { return func(a *Adapter) { a.compute = c } }

// WithServiceUsageAPI replaces the Service Usage client.
func WithServiceUsageAPI(c ServiceUsageAPI) Option { return func(a *Adapter) { a.usage = c } }

// WithStorageAPI replaces the Cloud Storage client.
func WithStorageAPI(c StorageAPI) Option { return func(a *Adapter) { a.storage = c } }

// WithWaiter sets how long-running operations are polled.
func WithWaiter(w Waiter) Option { return func(a *Adapter) { a.waiter = w } }

// WithLogger sets the logger used by the adapter.
func WithLogger(l *zap.Logger) Option { return func(a *Adapter) { a.logger = l } }

// New creates a Compute Engine adapter for projects × zones. It makes no API
// calls; use EnsureReady to activate the Compute API on a project.
func New(ctx context.Context, projects, zones []string, creds Credentials, opts ...Option) (*Adapter, error) {
	if len(zones) == 0 {
		zones = []string{DefaultZone}
	}
	a := &Adapter{
		projects: append([]string(nil), projects...),
		zones:    append([]string(nil), zones...),
		waiter:   Waiter{Interval: DefaultPollInterval},
		ready:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.Logger()
	}
	if creds == nil {
		creds = ApplicationDefault()
	}
	clientOpts := creds.ClientOptions()

	if a.compute == nil {
		svc, err := compute.NewService(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create compute service: %w", err)
		}
		a.compute = &computeClient{svc}
	}
	if a.usage == nil {
		svc, err := serviceusage.NewService(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create service usage service: %w", err)
		}
		a.usage = &serviceUsageClient{svc}
	}
	if a.storage == nil {
		svc, err := storage.NewService(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage service: %w", err)
		}
		a.storage = &storageClient{svc}
	}

	a.logger.Debug("GCP adapter ready",
		zap.Strings("projects", a.projects),
		zap.Strings("zones", a.zones),
		zap.Stringer("credentials", creds))
	return a, nil
}

// Name implements cloud.Provider.
func (a *Adapter) Name() cloud.ProviderName { return cloud.ProviderGCP }

// Projects returns the configured projects.
func (a *Adapter) Projects() []string { return append([]string(nil), a.projects...) }

// Zones returns the configured zones.
func (a *Adapter) Zones() []string { return append([]string(nil), a.zones...) }

// ListInstances lists every configured project × zone pair.
func (a *Adapter) ListInstances(ctx context.Context) (*cloud.ListReport, error) {
	report := cloud.NewListReport(cloud.ProviderGCP)
	for _, project := range a.projects {
		for _, zone := range a.zones {
			scope := cloud.Scope{Project: project, Location: zone}
			instances, err := a.listZone(ctx, project, zone)
			if err != nil {
				err = classify("list instances", scope.String(), err)
				a.logger.Warn("failed to list instances",
					zap.String("project", project),
					zap.String("zone", zone),
					zap.String("error", logging.Truncate(err.Error())))
			}
			report.Add(scope, instances, err)
		}
	}
	return report, report.Err()
}

func (a *Adapter) listZone(ctx context.Context, project, zone string) ([]cloud.Instance, error) {
	var instances []cloud.Instance
	err := a.compute.ListInstances(ctx, project, zone, func(page *compute.InstanceList) error {
		for _, inst := range page.Items {
			instances = append(instances, normalize(inst, project, zone))
		}
		return nil
	})
	a.observe("instances.list", err)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func normalize(inst *compute.Instance, project, zone string) cloud.Instance {
	return cloud.Instance{
		ID:           strconv.FormatUint(inst.Id, 10),
		Name:         inst.Name,
		Provider:     cloud.ProviderGCP,
		Location:     zone,
		MachineClass: inst.MachineType,
		Status:       inst.Status,
		Project:      project,
	}
}

// Accelerator attaches GPUs of one type to a new instance
type Accelerator struct {
	// Type is a short name such as "nvidia-tesla-t4" or a qualified path.
	Type  string
	Count int64
}

// CreateInstanceRequest describes a Compute Engine instance to create
type CreateInstanceRequest struct {
	Project string
	Zone    string
	Name    string

	MachineType string
	SourceImage string
	DiskSizeGb  int64

	Network        string
	Subnetwork     string
	InternalIP     string
	ExternalAccess bool
	// ExternalIPv4 is a reserved static address, used only with ExternalAccess.
	ExternalIPv4 string

	Accelerators []Accelerator
	Preemptible  bool
	Spot         bool
	// TerminationAction applies to spot instances; defaults to STOP.
	TerminationAction string

	Hostname           string
	DeletionProtection bool
	Labels             map[string]string
	Metadata           map[string]string
}

var qualifiedMachineType = regexp.MustCompile(`^zones/[a-z\d\-]+/machineTypes/[a-z\d\-]+$`)

// QualifyMachineType returns machineType unchanged when it already has the
// form zones/<zone>/machineTypes/<name>, and qualifies it with zone otherwise.
func QualifyMachineType(machineType, zone string) string {
	if qualifiedMachineType.MatchString(machineType) {
		return machineType
	}
	return fmt.Sprintf("zones/%s/machineTypes/%s", zone, machineType)
}

func qualifyAcceleratorType(acceleratorType, zone string) string {
	if strings.Contains(acceleratorType, "/") {
		return acceleratorType
	}
	return fmt.Sprintf("zones/%s/acceleratorTypes/%s", zone, acceleratorType)
}

func (a *Adapter) buildInstance(req CreateInstanceRequest) *compute.Instance {
	machineType := req.MachineType
	if machineType == "" {
		machineType = DefaultMachineType
	}
	sourceImage := req.SourceImage
	if sourceImage == "" {
		sourceImage = DefaultSourceImage
	}
	network := req.Network
	if network == "" {
		network = DefaultNetwork
	}

	nic := &compute.NetworkInterface{
		Network:    network,
		Subnetwork: req.Subnetwork,
		NetworkIP:  req.InternalIP,
	}
	if req.ExternalAccess {
		nic.AccessConfigs = []*compute.AccessConfig{{
			Type:        "ONE_TO_ONE_NAT",
			Name:        "External NAT",
			NetworkTier: "PREMIUM",
			NatIP:       req.ExternalIPv4,
		}}
	}

	inst := &compute.Instance{
		Name:        req.Name,
		MachineType: QualifyMachineType(machineType, req.Zone),
		Disks: []*compute.AttachedDisk{{
			AutoDelete: true,
			Boot:       true,
			Type:       "PERSISTENT",
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: sourceImage,
				DiskSizeGb:  req.DiskSizeGb,
			},
		}},
		NetworkInterfaces:  []*compute.NetworkInterface{nic},
		Scheduling:         &compute.Scheduling{},
		Hostname:           req.Hostname,
		DeletionProtection: req.DeletionProtection,
	}
	if len(req.Labels) > 0 {
		inst.Labels = maps.Clone(req.Labels)
	}
	if len(req.Metadata) > 0 {
		inst.Metadata = &compute.Metadata{Items: metadataItems(req.Metadata)}
	}

	if len(req.Accelerators) > 0 {
		for _, acc := range req.Accelerators {
			inst.GuestAccelerators = append(inst.GuestAccelerators, &compute.AcceleratorConfig{
				AcceleratorType:  qualifyAcceleratorType(acc.Type, req.Zone),
				AcceleratorCount: acc.Count,
			})
		}
		inst.Scheduling.OnHostMaintenance = "TERMINATE"
	}

	if req.Preemptible {
		a.logger.Warn("preemptible VMs are being replaced by Spot VMs", zap.String("instance", req.Name))
		inst.Scheduling.Preemptible = true
	}
	if req.Spot {
		action := req.TerminationAction
		if action == "" {
			action = DefaultTerminationAction
		}
		inst.Scheduling.ProvisioningModel = "SPOT"
		inst.Scheduling.InstanceTerminationAction = action
	}
	if req.Preemptible && req.Spot {
		// Both are forwarded; Compute Engine decides whether it accepts the pair.
		a.logger.Warn("both preemptible and spot requested", zap.String("instance", req.Name))
	}
	return inst
}

// CreateInstance inserts the instance, waits for the insert operation and
// returns the instance as Compute Engine reports it afterwards. A failed
// operation returns no instance.
func (a *Adapter) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*compute.Instance, error) {
	if req.Project == "" || req.Zone == "" || req.Name == "" {
		return nil, fmt.Errorf("project, zone and name are required")
	}
	scope := cloud.Scope{Project: req.Project, Location: req.Zone}.String()
	inst := a.buildInstance(req)

	a.logger.Debug("creating instance",
		zap.String("project", req.Project),
		zap.String("zone", req.Zone),
		zap.String("name", req.Name),
		zap.String("machine_type", inst.MachineType))

	op, err := a.compute.InsertInstance(ctx, req.Project, req.Zone, inst, uuid.NewString())
	a.observe("instances.insert", err)
	if err != nil {
		return nil, classify("create instance", scope, err)
	}
	if err := a.waitZoneOperation(ctx, req.Project, req.Zone, op, "instance creation"); err != nil {
		return nil, classify("create instance", scope, err)
	}

	created, err := a.GetInstanceDetails(ctx, req.Project, req.Zone, req.Name)
	if err != nil {
		return nil, err
	}
	a.logger.Info("instance created",
		zap.String("project", req.Project),
		zap.String("zone", req.Zone),
		zap.String("name", created.Name),
		zap.Uint64("id", created.Id))
	return created, nil
}

// DeleteInstance deletes the instance and waits until the deletion finishes.
func (a *Adapter) DeleteInstance(ctx context.Context, project, zone, name string) error {
	scope := cloud.Scope{Project: project, Location: zone}.String()
	op, err := a.compute.DeleteInstance(ctx, project, zone, name)
	a.observe("instances.delete", err)
	if err != nil {
		return classify("delete instance", scope, err)
	}
	if err := a.waitZoneOperation(ctx, project, zone, op, "instance deletion"); err != nil {
		return classify("delete instance", scope, err)
	}
	a.logger.Info("instance deleted",
		zap.String("project", project),
		zap.String("zone", zone),
		zap.String("name", name))
	return nil
}

// GetInstanceDetails returns the current instance record, labels and
// metadata included.
func (a *Adapter) GetInstanceDetails(ctx context.Context, project, zone, name string) (*compute.Instance, error) {
	inst, err := a.compute.GetInstance(ctx, project, zone, name)
	a.observe("instances.get", err)
	if err != nil {
		return nil, classify("get instance", cloud.Scope{Project: project, Location: zone}.String(), err)
	}
	return inst, nil
}

// SetInstanceLabels replaces the instance's labels with labels. Labels not
// in the map are removed. The current label fingerprint is read first and
// sent with the update; a concurrent change yields cloud.ErrConflict.
func (a *Adapter) SetInstanceLabels(ctx context.Context, project, zone, name string, labels map[string]string) error {
	scope := cloud.Scope{Project: project, Location: zone}.String()
	inst, err := a.GetInstanceDetails(ctx, project, zone, name)
	if err != nil {
		return err
	}

	replacement := maps.Clone(labels)
	if replacement == nil {
		replacement = map[string]string{}
	}
	req := &compute.InstancesSetLabelsRequest{
		Labels:           replacement,
		LabelFingerprint: inst.LabelFingerprint,
	}
	if len(replacement) == 0 {
		req.ForceSendFields = []string{"Labels"}
	}
	op, err := a.compute.SetLabels(ctx, project, zone, name, req)
	a.observe("instances.setLabels", err)
	if err != nil {
		return classify("set labels", scope, err)
	}
	if err := a.waitZoneOperation(ctx, project, zone, op, "label update"); err != nil {
		return classify("set labels", scope, err)
	}
	return nil
}

// SetInstanceMetadata replaces all metadata items of the instance. The
// fingerprint of the metadata read just before is sent with the update.
func (a *Adapter) SetInstanceMetadata(ctx context.Context, project, zone, name string, metadata map[string]string) error {
	scope := cloud.Scope{Project: project, Location: zone}.String()
	inst, err := a.GetInstanceDetails(ctx, project, zone, name)
	if err != nil {
		return err
	}

	md := &compute.Metadata{Items: metadataItems(metadata)}
	if inst.Metadata != nil {
		md.Fingerprint = inst.Metadata.Fingerprint
	}
	if len(md.Items) == 0 {
		md.ForceSendFields = []string{"Items"}
	}
	op, err := a.compute.SetMetadata(ctx, project, zone, name, md)
	a.observe("instances.setMetadata", err)
	if err != nil {
		return classify("set metadata", scope, err)
	}
	if err := a.waitZoneOperation(ctx, project, zone, op, "metadata update"); err != nil {
		return classify("set metadata", scope, err)
	}
	return nil
}

// MetadataMap flattens a metadata container into a map.
func MetadataMap(md *compute.Metadata) map[string]string {
	out := make(map[string]string)
	if md == nil {
		return out
	}
	for _, item := range md.Items {
		if item == nil {
			continue
		}
		value := ""
		if item.Value != nil {
			value = *item.Value
		}
		out[item.Key] = value
	}
	return out
}

func metadataItems(metadata map[string]string) []*compute.MetadataItems {
	items := make([]*compute.MetadataItems, 0, len(metadata))
	for _, key := range slices.Sorted(maps.Keys(metadata)) {
		value := metadata[key]
		items = append(items, &compute.MetadataItems{Key: key, Value: &value})
	}
	return items
}

// waitZoneOperation blocks until op finishes. The first poll reuses op itself.
func (a *Adapter) waitZoneOperation(ctx context.Context, project, zone string, op *compute.Operation, description string) error {
	if op == nil {
		return fmt.Errorf("%s: no operation returned", description)
	}
	current := op
	return a.waiter.Wait(ctx, description, func(ctx context.Context) (OperationStatus, error) {
		if current == nil {
			latest, err := a.compute.GetZoneOperation(ctx, project, zone, op.Name)
			a.observe("zoneOperations.get", err)
			if err != nil {
				return OperationStatus{}, err
			}
			current = latest
		}
		status := zoneOperationStatus(current, description)
		current = nil
		return status, nil
	})
}

func (a *Adapter) observe(op string, err error) {
	metrics.ObserveCall(string(cloud.ProviderGCP), op, err)
}
