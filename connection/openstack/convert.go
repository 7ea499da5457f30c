package openstack

import (
	"sort"
	"strings"

	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/extendedstatus"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/images"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/travis-ci/cloud-driver/cloud"
)

type server struct {
	servers.Server
	extendedstatus.ServerExtendedStatusExt
}

func nodeState(status string) cloud.NodeState {
	switch strings.ToUpper(status) {
	case "ACTIVE":
		return cloud.NodeStateRunning
	case "BUILD", "REBUILD", "RESIZE", "VERIFY_RESIZE":
		return cloud.NodeStatePending
	case "REBOOT", "HARD_REBOOT":
		return cloud.NodeStateRebooting
	case "SHUTOFF", "STOPPED":
		return cloud.NodeStateStopped
	case "SUSPENDED", "PAUSED":
		return cloud.NodeStateSuspended
	case "DELETED":
		return cloud.NodeStateTerminated
	default:
		return cloud.NodeStateUnknown
	}
}

func serverToNode(s *server) *cloud.Node {
	node := &cloud.Node{
		ID:    s.ID,
		Name:  s.Name,
		State: nodeState(s.Status),
		Extra: map[string]interface{}{
			cloud.ExtraStatus:  strings.ToLower(s.Status),
			cloud.ExtraTask:    s.TaskState,
			cloud.ExtraPower:   strings.ToLower(s.PowerState.String()),
			cloud.ExtraCreated: s.Created.UTC().Format(cloud.CreatedLayout),
			"tenantId":         s.TenantID,
			"userId":           s.UserID,
			"metadata":         s.Metadata,
		},
	}
	if id, ok := s.Flavor["id"].(string); ok {
		node.Extra[cloud.ExtraFlavorID] = id
	}
	if id, ok := s.Image["id"].(string); ok {
		node.Extra[cloud.ExtraImageID] = id
	}

	node.PublicIPs, node.PrivateIPs = splitAddresses(s.Addresses)
	if s.AccessIPv4 != "" && !contains(node.PublicIPs, s.AccessIPv4) {
		node.PublicIPs = append(node.PublicIPs, s.AccessIPv4)
	}

	return node
}

// splitAddresses sorts the addresses nova reports per network into floating
// and fixed ones. Networks are visited in name order.
func splitAddresses(addresses map[string]interface{}) (public, private []string) {
	networks := make([]string, 0, len(addresses))
	for network := range addresses {
		networks = append(networks, network)
	}
	sort.Strings(networks)

	for _, network := range networks {
		entries, ok := addresses[network].([]interface{})
		if !ok {
			continue
		}
		for _, entry := range entries {
			address, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			addr, _ := address["addr"].(string)
			if addr == "" {
				continue
			}
			if kind, _ := address["OS-EXT-IPS:type"].(string); kind == "floating" {
				public = append(public, addr)
			} else {
				private = append(private, addr)
			}
		}
	}
	return public, private
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func imageToNodeImage(image *images.Image) *cloud.NodeImage {
	return &cloud.NodeImage{
		ID:   image.ID,
		Name: image.Name,
		Extra: map[string]interface{}{
			"status":   strings.ToLower(image.Status),
			"progress": image.Progress,
			"minDisk":  image.MinDisk,
			"minRam":   image.MinRAM,
			"metadata": image.Metadata,
			"created":  image.Created,
		},
	}
}

func flavorToNodeSize(flavor *flavors.Flavor) *cloud.NodeSize {
	return &cloud.NodeSize{
		ID:   flavor.ID,
		Name: flavor.Name,
		CPU:  flavor.VCPUs,
		RAM:  flavor.RAM,
		Disk: flavor.Disk,
		Extra: map[string]interface{}{
			"swap":      flavor.Swap,
			"ephemeral": flavor.Ephemeral,
			"public":    flavor.IsPublic,
		},
	}
}

func volumeToStorageVolume(v *volumes.Volume) *cloud.StorageVolume {
	volume := &cloud.StorageVolume{
		ID:    v.ID,
		Name:  v.Name,
		Size:  v.Size,
		State: v.Status,
		Extra: map[string]interface{}{
			"description":       v.Description,
			"availability_zone": v.AvailabilityZone,
			"created_at":        v.CreatedAt.UTC().Format(cloud.CreatedLayout),
		},
	}
	if len(v.Attachments) > 0 {
		volume.Extra[cloud.ExtraAttachedTo] = v.Attachments[0].ServerID
		volume.Extra["device"] = v.Attachments[0].Device
	}
	return volume
}
